package domain

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

type RoomName string

// RoomID is the gateway-side numeric identifier of a room.
type RoomID uint32

type Room struct {
	ID              RoomID `json:"room"`
	Description     string `json:"description,omitempty"`
	MaxPublishers   int    `json:"max_publishers,omitempty"`
	NumParticipants int    `json:"num_participants,omitempty"`
}

// NewRoomName validates user input. The name is hashed as typed, so it is not normalized.
func NewRoomName(s string) (RoomName, error) {
	if err := ValidateName(s); err != nil {
		return "", err
	}
	return RoomName(s), nil
}

// ResolveRoomID maps a room name to the identifier every client derives for it.
// The md5 hex digest is folded with hash = hash*31 + c in 32-bit space.
func ResolveRoomID(name RoomName) RoomID {
	sum := md5.Sum([]byte(name))
	digest := hex.EncodeToString(sum[:])

	var hash uint32
	for i := 0; i < len(digest); i++ {
		hash = (hash << 5) - hash + uint32(digest[i])
	}
	return RoomID(hash)
}

func (id RoomID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Wire returns the value placed in "room" fields of gateway requests.
func (id RoomID) Wire(stringIDs bool) any {
	if stringIDs {
		return id.String()
	}
	return uint32(id)
}

// UnmarshalJSON accepts both numeric and string room ids.
func (id *RoomID) UnmarshalJSON(b []byte) error {
	v, err := parseNumeric(b, 32)
	if err != nil {
		return fmt.Errorf("room id: %w", err)
	}
	*id = RoomID(v)
	return nil
}

func parseNumeric(b []byte, bits int) (uint64, error) {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		return strconv.ParseUint(s, 10, bits)
	}
	if string(b) == "null" {
		return 0, nil
	}
	return strconv.ParseUint(string(b), 10, bits)
}
