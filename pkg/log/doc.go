/*
Package log provides structured logging for playroomd using zerolog.

A single global Logger is configured once via Init and handed out through
component- and entity-scoped child loggers (WithComponent, WithRoomID,
WithSubscriberID, WithRequestID) so every package logs with consistent
fields without threading a logger through every call.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	roomLog := log.WithRoomID(roomID)
	roomLog.Info().Msg("room reset")
*/
package log
