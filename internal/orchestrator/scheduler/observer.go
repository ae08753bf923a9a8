package scheduler

// Result describes how a cycle ended.
type Result struct {
	Changed   bool  // the image differed from the committed one
	Sent      bool  // a report send was started
	Discarded bool  // the source was removed or stopped mid-cycle
	Err       error // invalid crop or OCR failure
}

// Observer is notified of turn and cycle boundaries. Calls come from the
// scheduler goroutine and must return quickly.
type Observer interface {
	Resumed(key string)
	CycleStarted(key string)
	CycleFinished(key string, res Result)
}

type nopObserver struct{}

func (nopObserver) Resumed(string)               {}
func (nopObserver) CycleStarted(string)          {}
func (nopObserver) CycleFinished(string, Result) {}
