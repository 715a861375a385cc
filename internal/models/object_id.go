package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectID is a mongo object id carried as hex. It is stored as a native
// ObjectId so ids sort by creation time in the session log.
//
//nolint:recvcheck // UnmarshalBSONValue needs a pointer receiver
type ObjectID string

// NewObjectID returns an id whose timestamp part is at.
func NewObjectID(at time.Time) ObjectID {
	return ObjectID(primitive.NewObjectIDFromTimestamp(at).Hex())
}

func (o ObjectID) IsZero() bool {
	return o == ""
}

func (o ObjectID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	p, err := primitive.ObjectIDFromHex(string(o))
	if err != nil {
		return bson.TypeNull, nil, fmt.Errorf("object id %q: %w", string(o), err)
	}
	return bson.MarshalValue(p)
}

func (o *ObjectID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bson.TypeNull {
		*o = ""
		return nil
	}
	var p primitive.ObjectID
	if err := bson.UnmarshalValue(t, data, &p); err != nil {
		return err
	}
	*o = ObjectID(p.Hex())
	return nil
}

func (o ObjectID) String() string {
	return string(o)
}
