package recorder

import (
	"context"
	"sync"
)

// Permissions answers microphone permission queries. Request may block on a
// user prompt.
type Permissions interface {
	Request(ctx context.Context) (bool, error)
	Granted() bool
}

// StaticPermissions is a configured grant. When GrantOnRequest is set the
// first Request grants access.
type StaticPermissions struct {
	mu             sync.Mutex
	granted        bool
	grantOnRequest bool
}

func NewStaticPermissions(granted, grantOnRequest bool) *StaticPermissions {
	return &StaticPermissions{granted: granted, grantOnRequest: grantOnRequest}
}

func (p *StaticPermissions) Request(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grantOnRequest {
		p.granted = true
	}
	return p.granted, nil
}

func (p *StaticPermissions) Granted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

// Revoke withdraws a grant, as a user would in system settings.
func (p *StaticPermissions) Revoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = false
}
