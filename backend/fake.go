package backend

import (
	"context"
	"sync"
)

// Fake is an in-memory assistant backend for controller tests. Calls
// block until Release is invoked when Gate is set, which lets tests hold
// a query "in flight" deliberately.
type Fake struct {
	WelcomeResult *WelcomeResult
	WelcomeErr    error
	QueryResult   *QueryResult
	QueryErr      error

	Gate chan struct{} // nil means respond immediately

	mu           sync.Mutex
	voiceCalls   int
	textCalls    int
	welcomeCalls int
	inFlight     int
	maxInFlight  int
}

func (f *Fake) Welcome(ctx context.Context) (*WelcomeResult, error) {
	f.mu.Lock()
	f.welcomeCalls++
	f.mu.Unlock()
	if f.WelcomeErr != nil {
		return nil, f.WelcomeErr
	}
	if f.WelcomeResult != nil {
		return f.WelcomeResult, nil
	}
	return &WelcomeResult{Text: "welcome"}, nil
}

func (f *Fake) VoiceQuery(ctx context.Context, audio []byte, mimeType string) (*QueryResult, error) {
	f.enter()
	defer f.leave()
	return f.answer(ctx)
}

func (f *Fake) Guidance(ctx context.Context, question, journalContext string) (*QueryResult, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	f.enterNoCount()
	defer f.leave()
	return f.answer(ctx)
}

func (f *Fake) answer(ctx context.Context) (*QueryResult, error) {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, &ServiceError{Status: "network", Detail: ctx.Err().Error()}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ServiceError{Status: "network", Detail: err.Error()}
	}
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	if f.QueryResult != nil {
		return f.QueryResult, nil
	}
	return &QueryResult{Transcript: "hello", Response: "hi there"}, nil
}

func (f *Fake) enter() {
	f.mu.Lock()
	f.voiceCalls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *Fake) enterNoCount() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *Fake) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *Fake) VoiceCalls() int   { f.mu.Lock(); defer f.mu.Unlock(); return f.voiceCalls }
func (f *Fake) TextCalls() int    { f.mu.Lock(); defer f.mu.Unlock(); return f.textCalls }
func (f *Fake) WelcomeCalls() int { f.mu.Lock(); defer f.mu.Unlock(); return f.welcomeCalls }

// MaxInFlight reports the peak number of concurrently outstanding
// queries. The single-flight invariant requires it to stay at 1.
func (f *Fake) MaxInFlight() int { f.mu.Lock(); defer f.mu.Unlock(); return f.maxInFlight }
