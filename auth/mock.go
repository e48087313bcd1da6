package auth

import (
	"fmt"
	"net/http"
)

// MockClient trusts an `x-uid` cookie set by the login flow. Session
// security is out of scope here; swap in a production Client to change
// that.
type MockClient struct {
	Client
}

func (c *MockClient) Auth(r *http.Request) (string, error) {
	var uid string

	if c, err := r.Cookie("x-uid"); err == nil {
		uid = c.Value
	}

	if uid == "" {
		return "", fmt.Errorf("empty x-uid from cookie")
	}
	return uid, nil
}
