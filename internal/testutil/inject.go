package testutil

import "sync"

// faults lets tests make a store method fail, or stall, until cleared
type faults struct {
	faultMu sync.Mutex
	errs    map[string]error
	holds   map[string]*hold
}

type hold struct {
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

// FailOn makes every call of method return err. A nil err clears it.
func (f *faults) FailOn(method string, err error) {
	f.faultMu.Lock()
	defer f.faultMu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// HoldOn parks every call of method until release is called. entered is
// closed once the first call is parked.
func (f *faults) HoldOn(method string) (entered <-chan struct{}, release func()) {
	f.faultMu.Lock()
	defer f.faultMu.Unlock()
	if f.holds == nil {
		f.holds = make(map[string]*hold)
	}
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.holds[method] = h
	return h.entered, func() { h.releaseOnce.Do(func() { close(h.release) }) }
}

func (f *faults) fault(method string) error {
	f.faultMu.Lock()
	h := f.holds[method]
	err := f.errs[method]
	f.faultMu.Unlock()

	if h != nil {
		h.enterOnce.Do(func() { close(h.entered) })
		<-h.release
	}
	return err
}

func (f *faults) reset() {
	f.faultMu.Lock()
	defer f.faultMu.Unlock()
	f.errs = nil
	for _, h := range f.holds {
		h.releaseOnce.Do(func() { close(h.release) })
	}
	f.holds = nil
}
