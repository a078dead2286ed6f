package orch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Persisted keys. The names are shared with other clients of the same store.
const (
	KeyRoomID         = "roomId"
	KeyRoomName       = "roomName"
	KeyUserName       = "userName"
	KeyLoggedIn       = "isLoggedIn"
	KeyStartTime      = "startTime"
	KeyAudioEnabled   = "audioEnabled"
	KeyVideoEnabled   = "videoEnabled"
	KeyAudioDeviceID  = "audioDeviceId"
	KeyVideoDeviceID  = "videoDeviceId"
	KeyPlayLeaveSound = "playLeaveSound"
)

// Values of KeyPlayLeaveSound.
const (
	LeaveSoundNone    = "0"
	LeaveSoundPending = "-1"
)

// SavedState is what survives a restart.
type SavedState struct {
	RoomID         domain.RoomID   `json:"room_id"`
	RoomName       domain.RoomName `json:"room_name"`
	UserName       string          `json:"user_name"`
	LoggedIn       bool            `json:"logged_in"`
	StartTime      time.Time       `json:"start_time,omitzero"`
	AudioEnabled   bool            `json:"audio_enabled"`
	VideoEnabled   bool            `json:"video_enabled"`
	AudioDeviceID  string          `json:"audio_device_id,omitempty"`
	VideoDeviceID  string          `json:"video_device_id,omitempty"`
	PlayLeaveSound string          `json:"play_leave_sound,omitempty"`
}

// StateStore maps SavedState onto string keys of a core.Store.
type StateStore struct {
	store core.Store
}

func NewStateStore(store core.Store) *StateStore {
	return &StateStore{store: store}
}

func (s *StateStore) Load() (SavedState, error) {
	st := SavedState{AudioEnabled: true, VideoEnabled: true}

	str := func(key string) (string, error) {
		v, _, err := s.store.Get(key)
		if err != nil {
			return "", fmt.Errorf("load %s: %w", key, err)
		}
		return v, nil
	}

	v, err := str(KeyRoomID)
	if err != nil {
		return st, err
	}
	if v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			st.RoomID = domain.RoomID(id)
		}
	}
	if v, err = str(KeyRoomName); err != nil {
		return st, err
	}
	st.RoomName = domain.RoomName(v)
	if st.UserName, err = str(KeyUserName); err != nil {
		return st, err
	}
	if v, err = str(KeyLoggedIn); err != nil {
		return st, err
	}
	st.LoggedIn = v == "true"
	if v, err = str(KeyStartTime); err != nil {
		return st, err
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
		st.StartTime = time.UnixMilli(ms)
	}
	if v, err = str(KeyAudioEnabled); err != nil {
		return st, err
	}
	st.AudioEnabled = v != "false"
	if v, err = str(KeyVideoEnabled); err != nil {
		return st, err
	}
	st.VideoEnabled = v != "false"
	if st.AudioDeviceID, err = str(KeyAudioDeviceID); err != nil {
		return st, err
	}
	if st.VideoDeviceID, err = str(KeyVideoDeviceID); err != nil {
		return st, err
	}
	if st.PlayLeaveSound, err = str(KeyPlayLeaveSound); err != nil {
		return st, err
	}
	return st, nil
}

// SaveJoin records a successful join.
func (s *StateStore) SaveJoin(room domain.RoomID, name domain.RoomName, user string, at time.Time) error {
	return s.set(map[string]string{
		KeyRoomID:    room.String(),
		KeyRoomName:  string(name),
		KeyUserName:  user,
		KeyLoggedIn:  "true",
		KeyStartTime: strconv.FormatInt(at.UnixMilli(), 10),
	})
}

func (s *StateStore) SaveRoomID(room domain.RoomID) error {
	return s.store.Set(KeyRoomID, room.String())
}

func (s *StateStore) SaveEnabled(kind domain.TrackKind, enabled bool) error {
	key := KeyVideoEnabled
	if kind == domain.TrackAudio {
		key = KeyAudioEnabled
	}
	return s.store.Set(key, strconv.FormatBool(enabled))
}

func (s *StateStore) SaveDevices(audio, video string) error {
	return s.set(map[string]string{KeyAudioDeviceID: audio, KeyVideoDeviceID: video})
}

func (s *StateStore) SavePlayLeaveSound(v string) error {
	return s.store.Set(KeyPlayLeaveSound, v)
}

// Clear marks the user logged out. Names, devices and toggles are kept for the next join.
func (s *StateStore) Clear() error {
	return s.store.Delete(KeyRoomID, KeyStartTime, KeyLoggedIn)
}

func (s *StateStore) set(values map[string]string) error {
	for k, v := range values {
		if err := s.store.Set(k, v); err != nil {
			return fmt.Errorf("save %s: %w", k, err)
		}
	}
	return nil
}
