package clientmqtt

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// BrokerURL builds the connection string. Credentials are included only
// when the password is non-empty; a user without a password is dropped.
func BrokerURL(host string, port int, user, password string) string {
	u := url.URL{
		Scheme: "mqtt",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	}
	return u.String()
}

// RedactedURL is BrokerURL with the password masked, for logs.
func RedactedURL(host string, port int, user, password string) string {
	raw := BrokerURL(host, port, user, password)
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("mqtt://%s", net.JoinHostPort(host, strconv.Itoa(port)))
	}
	return u.Redacted()
}
