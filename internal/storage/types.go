package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBUser is the persisted profile of a user the relay has ever seen,
// together with its last seen time and last known position. The online
// flag is runtime state and is not stored.
type DBUser struct {
	ID             string  `msgpack:"id"`
	Name           string  `msgpack:"name"`
	Color          string  `msgpack:"color"`
	ProfilePicture string  `msgpack:"profilePicture"`
	LastSeen       int64   `msgpack:"lastSeen"`
	PositionX      float64 `msgpack:"posX"`
	PositionY      float64 `msgpack:"posY"`
	PositionZ      float64 `msgpack:"posZ"`
	HasPosition    bool    `msgpack:"hasPosition"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBFriendRequest struct {
	ID         string `msgpack:"id"`
	FromUserID string `msgpack:"fromUserId"`
	ToUserID   string `msgpack:"toUserId"`
	Status     string `msgpack:"status"`
}

func (r *DBFriendRequest) Key() []byte {
	return []byte(r.ID)
}

func (r *DBFriendRequest) MarshalBinary() (data []byte, err error) {
	type alias DBFriendRequest
	return msgpack.Marshal((*alias)(r))
}

func (r *DBFriendRequest) UnmarshalBinary(data []byte) error {
	type alias DBFriendRequest
	return msgpack.Unmarshal(data, (*alias)(r))
}

// DBPushSubscription is a browser push endpoint registered by a user.
type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.UserID)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
