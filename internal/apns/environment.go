package apns

import (
	"fmt"
	"strings"
)

// Environment selects the gateway and feedback endpoints.
type Environment string

const (
	Production Environment = "production"
	Sandbox    Environment = "sandbox"
)

// Endpoints holds the host:port pairs of one environment.
type Endpoints struct {
	Gateway  string
	Feedback string
}

var endpoints = map[Environment]Endpoints{
	Production: {Gateway: "gateway.push.apple.com:2195", Feedback: "feedback.push.apple.com:2196"},
	Sandbox:    {Gateway: "gateway.sandbox.push.apple.com:2195", Feedback: "feedback.sandbox.push.apple.com:2196"},
}

// ParseEnvironment accepts "production" or "sandbox", case-insensitively.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := endpoints[env]; !ok {
		return "", fmt.Errorf("unknown APNs environment %q (want production or sandbox)", s)
	}
	return env, nil
}

// Endpoints returns the addresses for the environment.
func (e Environment) Endpoints() Endpoints {
	return endpoints[e]
}
