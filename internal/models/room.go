package models

import (
	"fmt"
	"strings"
)

type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomForum  RoomKind = "forum"
)

// RoomKey identifies one conversation on the realtime transport.
type RoomKey struct {
	Kind RoomKind `json:"kind"`
	ID   string   `json:"id"`
}

func (k RoomKey) IsZero() bool {
	return k.ID == ""
}

func (k RoomKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// DirectRoom maps an unordered user pair to a single room.
func DirectRoom(a, b string) RoomKey {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return RoomKey{Kind: RoomDirect}
	}
	if b < a {
		a, b = b, a
	}
	return RoomKey{Kind: RoomDirect, ID: a + "_" + b}
}

func ForumRoom(courseID string) RoomKey {
	return RoomKey{Kind: RoomForum, ID: strings.TrimSpace(courseID)}
}

type Section string

const (
	SectionChat  Section = "chat"
	SectionForum Section = "forum"
)

func (s Section) Valid() bool {
	return s == SectionChat || s == SectionForum
}
