// Package houseerr names the error taxonomy shared across the federation's
// components. Every error bounded to one peer, one file or one message is
// meant to be logged and dropped by its caller; only startup misconfiguration
// is fatal, and that decision is made by the caller, never by this package.
package houseerr

import "errors"

// Sentinel errors matching the control-message codec and HMAC rules.
var (
	ErrUnsigned         = errors.New("houseportal: message unsigned but a key is configured")
	ErrBadSignature     = errors.New("houseportal: signature verification failed")
	ErrUnknownKeyword   = errors.New("houseportal: unknown control keyword")
	ErrMalformed        = errors.New("houseportal: malformed control message")
	ErrUnsupportedCrypto = errors.New("houseportal: unsupported signature method")
)

// Sentinel errors for the redirection/peer tables.
var (
	ErrTableFull          = errors.New("houseportal: table at capacity")
	ErrUnresolvable       = errors.New("houseportal: no redirection entry matches")
	ErrPermanentDowngrade = errors.New("houseportal: refusing to downgrade a permanent entry")
)

// Sentinel errors for transport and startup.
var (
	ErrTransportUnavailable = errors.New("houseportal: every transport socket operation failed")
	ErrBind                 = errors.New("houseportal: cannot bind listening socket")
	ErrConfig               = errors.New("houseportal: malformed configuration file")
)

// Kind classifies an error for logging/metrics without inspecting strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindBind
	KindTransport
	KindSignature
	KindMalformed
	KindTableFull
	KindHTTP
	KindTimeout
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindBind:
		return "BindError"
	case KindTransport:
		return "TransportError"
	case KindSignature:
		return "SignatureError"
	case KindMalformed:
		return "Malformed"
	case KindTableFull:
		return "TableFull"
	case KindHTTP:
		return "HttpError"
	case KindTimeout:
		return "Timeout"
	case KindJSON:
		return "JsonParseError"
	default:
		return "Unknown"
	}
}
