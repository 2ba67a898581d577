package render

// NavigationObserver is notified with the final URL each time the page
// settles on a new document.
type NavigationObserver interface {
	OnNavigate(url string)
}

// NavigationObserverFunc adapts a function to NavigationObserver.
type NavigationObserverFunc func(url string)

// OnNavigate calls f(url).
func (f NavigationObserverFunc) OnNavigate(url string) { f(url) }

// NavigationSpan records the outcome of one navigation.
type NavigationSpan interface {
	Success()
	Error(err error)
}

// NavigationRecorder starts a span for each navigation.
type NavigationRecorder interface {
	StartNavigation(url string) NavigationSpan
}

type nopRecorder struct{}

func (nopRecorder) StartNavigation(string) NavigationSpan { return nopSpan{} }

type nopSpan struct{}

func (nopSpan) Success()    {}
func (nopSpan) Error(error) {}
