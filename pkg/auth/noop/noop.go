// Package noop admits every request as the anonymous identity. It backs
// auth type "none" so that rate limiting still has a subject to count.
package noop

import (
	"context"
	"net/http"

	"github.com/yingchuan/mcp-code-sandbox/pkg/auth"
)

type Authenticator struct{}

func (Authenticator) Authenticate(context.Context, *http.Request) auth.Result {
	return auth.Result{Decision: auth.Yes, Identity: auth.Anonymous()}
}
