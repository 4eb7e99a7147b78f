// Package domain contains entity without logic, just meta-data
package domain

type (
	// Identity is the caller-supplied stable user identifier, e.g. an
	// email address. Independent of any connection.
	Identity string

	// ClientID identifies one live connection. Minted per upgrade,
	// never reused after the socket closes.
	ClientID string

	// RoomName is the opaque token used for group addressing.
	RoomName string
)
