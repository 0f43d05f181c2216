package server

import "github.com/nedpals/davi-nfc-bridge/buildinfo"

// mDNS service discovery
var (
	MDNSServiceType = "_nfc-bridge._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// HTTP routes
const (
	PathWebSocket = "/ws"
	PathHealth    = "/api/v1/health"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
