package center

import "strings"

// Kind tells whether a method answers (Request) or not (Notification).
type Kind int

const (
	Request Kind = iota
	Notification
)

func (k Kind) String() string {
	if k == Notification {
		return "notification"
	}
	return "request"
}

const notificationPrefix = "on:"

// reservedService cannot name a service: its request names would carry the
// notification prefix.
const reservedService = "on"

// KindOf classifies a short method name by convention: names starting with
// "on" are notifications. Use an explicit Kind for methods like "online" that
// need a response.
func KindOf(method string) Kind {
	if strings.HasPrefix(method, "on") {
		return Notification
	}
	return Request
}

// WireName returns the fully-qualified method name sent over a connection:
// "service:method" for requests, "on:service:method" for notifications.
func WireName(service, method string, kind Kind) string {
	if kind == Notification {
		return notificationPrefix + service + ":" + method
	}
	return service + ":" + method
}

// IsNotification reports whether a wire name addresses a notification.
func IsNotification(wireName string) bool {
	return strings.HasPrefix(wireName, notificationPrefix)
}

// ParseWireName splits a wire name back into its parts.
func ParseWireName(wireName string) (service, method string, kind Kind, ok bool) {
	rest := wireName
	if IsNotification(wireName) {
		kind = Notification
		rest = strings.TrimPrefix(wireName, notificationPrefix)
	}
	service, method, ok = strings.Cut(rest, ":")
	if !ok || service == "" || method == "" {
		return "", "", Request, false
	}
	return service, method, kind, true
}
