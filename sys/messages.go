package sys

// @core
const (
	MsgConfigFailedToLoad   = "Failed to load config: %v"
	MsgConfigMissingToken   = "DISCORD_TOKEN is not set in .env file"
	MsgConfigInvalidGuildID = "invalid GUILD_ID: must be a valid Snowflake"
	MsgConfigInvalidTiming  = "invalid %s: must be positive"
	MsgConfigInvalidPolicy  = "invalid PERMISSIONS_POLICY: must be 0 or 1"
	MsgDaemonStarting       = "Starting..."
	MsgBotStarting          = "Starting %s..."
	MsgBotReady             = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown          = "Shutting down %s..."
	MsgBotKillingOld        = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated     = "Old instance terminated."
	MsgBotStubbornOld       = "Old process %d is stubborn. Sending SIGKILL..."
	MsgBotRegisterFail      = "Command registration failed: %v"
	MsgGenericError         = "%v"
	MsgPIDOpenFail          = "Failed to open PID file: %v"
	MsgPIDLockFail          = "Failed to lock PID file: %v"
	MsgMetricsListening     = "Metrics listening on %s"
	MsgMetricsServeFail     = "Metrics server stopped: %v"
)

// @database
const (
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDatabaseStatsFlush  = "Flushed %d statistics updates"
)

// @loader
const (
	MsgLoaderSyncCommands       = "Syncing %s commands..."
	MsgLoaderCommandsUpToDate   = "Commands are up to date. (Hash: %s)"
	MsgLoaderGuildRegistered    = "Registered %d guild commands"
	MsgLoaderGlobalRegistered   = "Registered %d global commands"
	MsgLoaderPanicRecovered     = "CRITICAL: handler panic recovered: %v"
	MsgLoaderInvalidGuildID     = "Invalid guild ID %q: %v"
	MsgLoaderRateLimitedCommand = "Rate limited command %s from %s"
)

// @voice
const (
	MsgVoiceJoining          = "Joining channel %s"
	MsgVoiceJoined           = "Joined channel %s"
	MsgVoiceLeaving          = "Leaving channel %s"
	MsgVoiceJoinDeferred     = "Delaying join of %s by %v"
	MsgVoiceJoinCoalesced    = "Join request for %s replaced pending %s"
	MsgVoiceJoinFailed       = "Failed to join %s: %v"
	MsgVoiceProviderRetries  = "Exhausted retries for SetOpusFrameProvider in guild %s"
	MsgVoiceSpeakingRetries  = "Exhausted retries for SetSpeaking in guild %s"
	MsgVoicePlaybackFinished = "Playback finished: %s"
	MsgVoicePlaybackStopped  = "Playback stopped: %s"
)

// @queue
const (
	MsgQueueDispatch        = "Dispatching %s (queue left: %d)"
	MsgQueueStarted         = "Started %s"
	MsgQueueEnded           = "Ended %s (%s)"
	MsgQueueError           = "Pipeline failed for %s: %v"
	MsgQueueRequeued        = "Requeued %s at %v for later resumption"
	MsgQueueChunk           = "Playing recording chunk #%d of %d"
	MsgQueueStreamTimeout   = "Stream metadata for %s did not arrive within %v"
	MsgQueueStreamFailed    = "Stream %s failed: %v"
	MsgQueueExportStarted   = "Exporting %s to %s"
	MsgQueueExportDone      = "Exported %s (%v, %d bytes)"
	MsgQueueExportFailed    = "Export to %s failed: %v"
	MsgQueueStatsFlushFail  = "Failed to flush statistics: %v"
	MsgQueueSinkReset       = "Recreated audio sink after idle settle"
	MsgQueuePanicRecovered  = "CRITICAL: scheduler panic recovered: %v"
	MsgQueueNoConnection    = "No live connection, skipping dispatch"
	MsgQueueVolumeLookupErr = "Failed to read volume for %s: %v"
)

// @transcoder
const (
	MsgTranscoderStart      = "ffmpeg %s"
	MsgTranscoderExit       = "ffmpeg exited: %v (%s)"
	MsgTranscoderKilled     = "Killed %d transcoder processes"
	MsgTranscoderEncodeFail = "Encoder failed: %v"
	MsgTranscoderPanic      = "CRITICAL: transcoder panic recovered: %v"
)

// @recorder
const (
	MsgRecorderStarted     = "Recording channel %s"
	MsgRecorderStopped     = "Recording stopped"
	MsgRecorderFileOpen    = "Opened %s for %s"
	MsgRecorderFileClosed  = "Closed %s (%v)"
	MsgRecorderWriteFail   = "Failed to write packet for %s: %v"
	MsgRecorderRegisterErr = "Failed to register recording %s: %v"
)

// @library
const (
	MsgLibraryWatching   = "Watching %s"
	MsgLibraryRegistered = "Registered %s (%v)"
	MsgLibraryRemoved    = "Removed %s"
	MsgLibraryProbeFail  = "Failed to probe %s: %v"
	MsgLibraryWatchFail  = "Watcher error: %v"
)

// @commands
const (
	MsgRecNaturalTimeInitFail = "Failed to initialize naturaltime parser: %v"
	MsgPresenceRecordFail     = "Failed to record presence of %s: %v"
	MsgNotifyFail             = "Failed to notify %s: %v"
)

// User-facing messages
const (
	ErrNoPermission       = "You don't have permission to do that."
	ErrNotInVoice         = "You need to be in a voice channel."
	ErrServerOnly         = "This command can only be used in a server."
	ErrJoinFailed         = "Couldn't join your voice channel."
	ErrSoundNotFound      = "No sound matches that name."
	ErrSoundAmbiguous     = "More than one sound matches, be more specific."
	ErrNothingToRepeat    = "Nothing to repeat yet."
	ErrRecordingNotFound  = "No recordings found for that request."
	ErrStreamUnavailable  = "That stream is unavailable."
	ErrInvalidTime        = "Couldn't understand that time."
	ErrRateLimited        = "Slow down a little."
	ErrStorage            = "Storage is unavailable right now."
	MsgNothingPlaying     = "Nothing is playing."
	MsgQueueEmpty         = "The queue is empty."
	MsgStopped            = "Stopped. Cleared %d items (%s)."
	MsgPaused             = "Paused."
	MsgResumed            = "Resumed."
	MsgSkipped            = "Skipped."
	MsgSummoned           = "Joined <#%s>."
	MsgDismissed          = "Left the voice channel."
	MsgRejoined           = "Rejoined <#%s>."
	MsgQueued             = "Queued **%s** (position %d)."
	MsgPlayingNow         = "Playing **%s** now."
	MsgVolumeSet          = "Volume set to **%d%%** (was %d%%)."
	MsgRenamed            = "Renamed **%s** to **%s**."
	MsgDeleted            = "Deleted **%s**."
	MsgStreamFailedNotice = "Couldn't play **%s**: %v"
	MsgExportedNotice     = "Saved **%s** (%s)."
)
