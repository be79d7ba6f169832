package captcha

import (
	"context"
	"strings"
	"sync"
)

// DefaultAction is the action name tokens are scoped to.
const DefaultAction = "submit_waitlist"

// TokenSource obtains a token scoped to an action.
type TokenSource interface {
	Token(ctx context.Context, action string) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context, action string) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context, action string) (string, error) {
	return f(ctx, action)
}

// StaticTokenSource returns the token the client obtained itself and sent
// along with the submission.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context, string) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", loadError{msg: "no token supplied"}
	}
	return string(s), nil
}

// Loader initialises a token source lazily and at most once. All form
// instances share it; a load failure is sticky.
type Loader struct {
	init func(ctx context.Context) (TokenSource, error)

	once sync.Once
	src  TokenSource
	err  error
}

// NewLoader wraps an initialiser.
func NewLoader(init func(ctx context.Context) (TokenSource, error)) *Loader {
	return &Loader{init: init}
}

// Token loads the source on first use and requests a token.
func (l *Loader) Token(ctx context.Context, action string) (string, error) {
	l.once.Do(func() {
		if l.init == nil {
			l.err = loadError{msg: "no token source configured"}
			return
		}
		src, err := l.init(ctx)
		if err != nil {
			l.err = loadError{msg: "load failed: " + err.Error()}
			return
		}
		if src == nil {
			l.err = loadError{msg: "load returned no source"}
			return
		}
		l.src = src
	})
	if l.err != nil {
		return "", l.err
	}
	tok, err := l.src.Token(ctx, action)
	if err != nil {
		if IsLoadFailure(err) {
			return "", err
		}
		return "", loadError{msg: "execute failed: " + err.Error()}
	}
	return tok, nil
}

var (
	sharedMu      sync.Mutex
	sharedLoaders = map[string]*Loader{}
)

// Shared returns the process-wide loader for key, creating it with init on
// first request.
func Shared(key string, init func(ctx context.Context) (TokenSource, error)) *Loader {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if l, ok := sharedLoaders[key]; ok {
		return l
	}
	l := NewLoader(init)
	sharedLoaders[key] = l
	return l
}
