package event

// Channel name constants. Every channel used anywhere in the core is
// declared here; §6 of the spec treats this list as exhaustive.
const (
	ChSystemStartupComplete       = "system.startup.complete"
	ChSystemShutdownRequested     = "system.shutdown.requested"
	ChSystemConnectionEstablished = "system.connection.established"
	ChSystemConnectionLost        = "system.connection.lost"
	ChSystemConnectionReconnecting = "system.connection.reconnecting"
	ChSystemSyncStarted           = "system.sync.started"
	ChSystemSyncCompleted         = "system.sync.completed"
	ChSystemErrorOccurred         = "system.error.occurred"

	ChXMPPRosterReceived           = "xmpp.roster.received"
	ChXMPPRosterUpdated            = "xmpp.roster.updated"
	ChXMPPRosterRemoved            = "xmpp.roster.removed"
	ChXMPPSubscriptionRequest      = "xmpp.roster.subscription.request"

	ChXMPPMessageReceived  = "xmpp.message.received"
	ChXMPPMessageSent      = "xmpp.message.sent"
	ChXMPPMessageDelivered = "xmpp.message.delivered"
	ChXMPPChatStateReceived = "xmpp.message.chatstate"

	ChXMPPPresenceChanged    = "xmpp.presence.changed"
	ChXMPPPresenceOwnChanged = "xmpp.presence.own.changed"

	ChXMPPMucJoined           = "xmpp.muc.joined"
	ChXMPPMucLeft             = "xmpp.muc.left"
	ChXMPPMucMessageReceived  = "xmpp.muc.message.received"
	ChXMPPMucSubjectChanged   = "xmpp.muc.subject.changed"
	ChXMPPMucOccupantChanged  = "xmpp.muc.occupant.changed"

	ChXMPPMamResultReceived = "xmpp.mam.result.received"
	ChXMPPMamFinReceived    = "xmpp.mam.fin.received"

	ChXMPPRawStanzaReceived = "xmpp.raw.stanza.received"

	ChUIMessageSend        = "ui.message.send"
	ChUIChatStateSend      = "ui.message.chatstate.send"
	ChUIPresenceSet        = "ui.presence.set"
	ChUIRosterAdd          = "ui.roster.add"
	ChUIRosterUpdate       = "ui.roster.update"
	ChUISubscriptionSend   = "ui.roster.subscription.send"
	ChUISubscriptionRespond = "ui.roster.subscription.respond"
	ChUIMucJoin            = "ui.muc.join"
	ChUIMucLeave           = "ui.muc.leave"
	ChUIMucMessageSend     = "ui.muc.message.send"
	ChUIMamQuery           = "ui.mam.query"

	// ChPluginPrefix + "<id>." + event name, e.g. "plugin.com.example.foo.loaded".
	ChPluginPrefix = "plugin."
)
