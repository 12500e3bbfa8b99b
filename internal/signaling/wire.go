package signaling

import (
	"github.com/screenbeam/relay/internal/protocol"
	"github.com/screenbeam/relay/internal/room"
)

func userInfo(u room.User) protocol.UserInfo {
	return protocol.UserInfo{
		ID:       u.ID,
		Name:     u.Name,
		IsHost:   u.IsHost,
		JoinedAt: protocol.UnixMillis(u.JoinedAt),
	}
}

func roomInfo(snap room.Snapshot) protocol.RoomInfo {
	viewers := make([]protocol.UserInfo, 0, len(snap.Viewers))
	for _, v := range snap.Viewers {
		viewers = append(viewers, userInfo(v))
	}
	return protocol.RoomInfo{
		Code:        snap.Code,
		HostID:      snap.HostID,
		HostName:    snap.HostName,
		Viewers:     viewers,
		ViewerCount: len(viewers),
		MaxViewers:  snap.MaxViewers,
		IsStreaming: snap.Streaming,
		CreatedAt:   protocol.UnixMillis(snap.CreatedAt),
	}
}

// roomUpdated is broadcast to remaining members after membership changes.
func roomUpdated(snap room.Snapshot) protocol.ServerMessage {
	viewers := make([]protocol.UserInfo, 0, len(snap.Viewers))
	for _, v := range snap.Viewers {
		viewers = append(viewers, userInfo(v))
	}
	return protocol.ServerMessage{
		Type:        protocol.MessageTypeRoomUpdated,
		Viewers:     viewers,
		ViewerCount: len(viewers),
	}
}
