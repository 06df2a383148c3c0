package protocol

// Request methods sent by the client.
const (
	MethodCheckin    = "CHECKIN"
	MethodGetConf    = "GETCONF"
	MethodLoginList  = "LOGINLIST"
	MethodPing       = "PING"
	MethodWrite      = "WRITE"
	MethodSyncMsg    = "SYNCMSG"
	MethodChatInfo   = "CHATINFO"
	MethodGetMem     = "GETMEM"
	MethodMember     = "MEMBER"
	MethodLChatList  = "LCHATLIST"
	MethodInfoLink   = "INFOLINK"
	MethodNotiRead   = "NOTIREAD"
	MethodDeleteMsg  = "DELETEMSG"
	MethodKickMem    = "KICKMEM"
	MethodReact      = "REACT"
	MethodShip       = "SHIP"
	MethodGetTrailer = "GETTRAILER"
	MethodPost       = "POST"
)

// PushMethod enumerates server-initiated packets the client routes by kind.
type PushMethod int

const (
	PushUnknown PushMethod = iota
	PushMessage
	PushKickout
	PushChangeServer
	PushComplete
	PushDecUnread
	PushNewMember
	PushDelMember
	PushSyncDeleteMessage
	PushChangeMeta
	PushSyncJoin
	PushSyncRewrite
)

var pushTokens = map[PushMethod]string{
	PushMessage:           "MSG",
	PushKickout:           "KICKOUT",
	PushChangeServer:      "CHANGESVR",
	PushComplete:          "COMPLETE",
	PushDecUnread:         "DECUNREAD",
	PushNewMember:         "NEWMEM",
	PushDelMember:         "DELMEM",
	PushSyncDeleteMessage: "SYNCDLMSG",
	PushChangeMeta:        "CHGMETA",
	PushSyncJoin:          "SYNCJOIN",
	PushSyncRewrite:       "SYNCREWR",
}

var pushByToken = func() map[string]PushMethod {
	out := make(map[string]PushMethod, len(pushTokens))
	for m, tok := range pushTokens {
		out[tok] = m
	}
	return out
}()

// ParsePushMethod maps a wire method token to its PushMethod. Unrecognized
// tokens map to PushUnknown.
func ParsePushMethod(method string) PushMethod {
	if m, ok := pushByToken[method]; ok {
		return m
	}
	return PushUnknown
}

// Token returns the wire method token, or "" for PushUnknown.
func (m PushMethod) Token() string {
	return pushTokens[m]
}

func (m PushMethod) String() string {
	if tok, ok := pushTokens[m]; ok {
		return tok
	}
	return "UNKNOWN"
}
