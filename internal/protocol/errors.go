package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrCatalogMismatch = "E_CATALOG_MISMATCH"

	// Intent boundary.
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrUnknownKind = "E_UNKNOWN_KIND"
	ErrRateLimit   = "E_RATE_LIMIT"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrCatalogMismatch: {},
	ErrBadRequest:      {},
	ErrUnknownKind:     {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
