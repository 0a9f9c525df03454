package timeouts

import "time"

const (
	Probe          = 300 * time.Millisecond
	PollInterval   = 3 * time.Second
	SecondShort    = 2 * time.Second
	SecondDefault  = 10 * time.Second
	SecondLong     = 30 * time.Second
	Heartbeat      = 30 * time.Second
	ReconnectDelay = 5 * time.Second
	ReconnectMax   = 60 * time.Second
	NoticeCooldown = 5 * time.Second
)
