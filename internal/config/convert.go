package config

import "github.com/danmuck/udpkv/internal/server"

// ServerConfig maps the file configuration onto the UDP runtime settings.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		Addr:         c.ListenAddr(),
		MaxDatagram:  c.MaxDatagram,
		ErrorReplies: c.ErrorReplies,
		RecentDrops:  c.RecentDrops,
	}
}
