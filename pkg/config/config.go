package config

import "time"

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	Addr                string        // listen address of the HTTP server
	LogLevel            string        // sets the log level (zap log level values)
	LogFormat           string        // text vs json
	LogFilter           string        // zapfilter rules, empty means no filtering
	TickPeriod          time.Duration // period of the global simulation cycle
	MaxAI               int           // max number of AI cars on lobby creation
	LobbyIdleTimeout    time.Duration // lobbies without subscribers are removed after this duration (0 disables)
	SubscriberBuffer    int           // number of snapshots buffered per stream subscriber
	TrackFile           string        // optional YAML track definition
	PublicDir           string        // optional directory with the browser client
	NatsURL             string        // optional NATS server for the snapshot mirror
	WaitForServices     time.Duration // duration to wait for other services to be ready
	EnableTelemetry     bool          // enable telemetry
	TelemetryEndpoint   string        // endpoint for telemetry ("stdout" for local debugging)
	ProfilingPort       int           // port for profiling
	ServiceName         = "racesim"   // service name reported to telemetry
	ShutdownGracePeriod = 5 * time.Second
)
