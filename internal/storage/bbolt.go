package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"sfera/internal/models"
)

var (
	bucketUsers          = []byte("users")
	bucketFriendRequests = []byte("friend_requests")
	bucketPushSubs       = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketUsers, bucketFriendRequests, bucketPushSubs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) put(bucket []byte, item Storeable) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := item.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put(item.Key(), data)
	})
}

// UpsertUser stores a user profile together with its last seen time and
// last known position.
func (s *BboltStorage) UpsertUser(user models.User, lastSeen int64) error {
	dbUser := &DBUser{
		ID:             user.ID,
		Name:           user.Name,
		Color:          user.Color,
		ProfilePicture: user.ProfilePicture,
		LastSeen:       lastSeen,
	}
	if user.Position != nil {
		dbUser.HasPosition = true
		dbUser.PositionX = user.Position[0]
		dbUser.PositionY = user.Position[1]
		dbUser.PositionZ = user.Position[2]
	}
	return s.put(bucketUsers, dbUser)
}

func (s *BboltStorage) DeleteUser(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(id))
	})
}

// ListUsers returns every stored profile with its last seen time.
func (s *BboltStorage) ListUsers() ([]models.User, map[string]int64, error) {
	var users []models.User
	lastSeen := make(map[string]int64)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			user := models.User{
				ID:             dbUser.ID,
				Name:           dbUser.Name,
				Color:          dbUser.Color,
				ProfilePicture: dbUser.ProfilePicture,
			}
			if dbUser.HasPosition {
				user.Position = &models.Position{dbUser.PositionX, dbUser.PositionY, dbUser.PositionZ}
			}
			users = append(users, user)
			lastSeen[dbUser.ID] = dbUser.LastSeen
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return users, lastSeen, nil
}

func (s *BboltStorage) UpsertFriendRequest(req models.FriendRequest) error {
	return s.put(bucketFriendRequests, &DBFriendRequest{
		ID:         req.ID,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Status:     string(req.Status),
	})
}

func (s *BboltStorage) ListFriendRequests() ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFriendRequests).ForEach(func(k, v []byte) error {
			var dbReq DBFriendRequest
			if err := dbReq.UnmarshalBinary(v); err != nil {
				return err
			}
			requests = append(requests, models.FriendRequest{
				ID:         dbReq.ID,
				FromUserID: dbReq.FromUserID,
				ToUserID:   dbReq.ToUserID,
				Status:     models.FriendRequestStatus(dbReq.Status),
			})
			return nil
		})
	})
	return requests, err
}

func (s *BboltStorage) UpsertPushSubscription(sub DBPushSubscription) error {
	return s.put(bucketPushSubs, &sub)
}

func (s *BboltStorage) DeletePushSubscription(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).Delete([]byte(userID))
	})
}

func (s *BboltStorage) ListPushSubscriptions() ([]DBPushSubscription, error) {
	var subs []DBPushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).ForEach(func(k, v []byte) error {
			var sub DBPushSubscription
			if err := sub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, sub)
			return nil
		})
	})
	return subs, err
}
