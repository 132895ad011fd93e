// Package authfake provides a recording Navigator.
package authfake

import (
	"errors"
	"sync"
)

var ErrNavigationBlocked = errors.New("navigation blocked")

// Navigator keeps a current URL and records navigations and replacements.
type Navigator struct {
	mu              sync.Mutex
	current         string
	navigations     []string
	replaced        []string
	BlockNavigation bool
}

func NewNavigator(current string) *Navigator {
	return &Navigator{current: current}
}

func (n *Navigator) CurrentURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Navigate records target. The current URL is left alone since a real host
// would unload.
func (n *Navigator) Navigate(target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.BlockNavigation {
		return ErrNavigationBlocked
	}
	n.navigations = append(n.navigations, target)
	return nil
}

func (n *Navigator) ReplaceURL(target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replaced = append(n.replaced, target)
	n.current = target
	return nil
}

// SetURL simulates the host landing on target.
func (n *Navigator) SetURL(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = target
}

func (n *Navigator) Navigations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.navigations...)
}

func (n *Navigator) Replacements() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.replaced...)
}
