package playback

// Handler receives playback lifecycle notifications. Calls are made from the
// playback worker goroutine and must not block for long.
type Handler interface {
	OnAudioStart()
	OnAudioStop()
}

// Handlers fans notifications out to every element in order.
type Handlers []Handler

var _ Handler = Handlers(nil)

func (hs Handlers) OnAudioStart() {
	for _, h := range hs {
		h.OnAudioStart()
	}
}

func (hs Handlers) OnAudioStop() {
	for _, h := range hs {
		h.OnAudioStop()
	}
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Start func()
	Stop  func()
}

var _ Handler = HandlerFuncs{}

func (f HandlerFuncs) OnAudioStart() {
	if f.Start != nil {
		f.Start()
	}
}

func (f HandlerFuncs) OnAudioStop() {
	if f.Stop != nil {
		f.Stop()
	}
}
