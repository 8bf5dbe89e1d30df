// README: Broadcast room kinds; every room name is built here.
package realtime

import "foodhub/internal/types"

type RoomKind string

const (
	KindUser    RoomKind = "user"
	KindOrder   RoomKind = "order"
	KindSOSPool RoomKind = "sos_pool"
	KindSupport RoomKind = "support"
)

// Room is comparable and used directly as a map key.
type Room struct {
	Kind RoomKind
	ID   string
}

func UserRoom(userID types.ID) Room   { return Room{Kind: KindUser, ID: string(userID)} }
func OrderRoom(orderID types.ID) Room { return Room{Kind: KindOrder, ID: string(orderID)} }
func SOSPoolRoom() Room               { return Room{Kind: KindSOSPool} }

// SupportRoom is the single conversation room owned by userID.
func SupportRoom(userID types.ID) Room { return Room{Kind: KindSupport, ID: string(userID)} }

func (r Room) String() string {
	switch r.Kind {
	case KindUser:
		return "user_" + r.ID
	case KindOrder:
		return "order_" + r.ID
	case KindSOSPool:
		return "SOS_ALERTS_POOL"
	case KindSupport:
		return "support-" + r.ID
	default:
		return string(r.Kind) + ":" + r.ID
	}
}
