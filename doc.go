// Package ircd implements the core state machine of an IRC server: channel
// membership and modes, the mode-application pipeline, server-to-server
// linkage lifecycle, and the account/SASL authentication pipeline.
//
// The package intentionally stops short of a complete daemon. Transport
// framing, the numeric/command registries, the on-disk database, and
// individual s2s wire dialects are all external collaborators, consumed
// here only through interfaces: User and Source (user.go), Server
// (server.go), AccountStore (account.go), Relay (channelops.go) and
// SASLClient/SASLOutbound (sasl.go).
package ircd
