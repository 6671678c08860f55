package chatstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewUserID returns a fresh chat identity of the form user_<unixms>_<rand>.
func NewUserID(now time.Time) string {
	return fmt.Sprintf("user_%d_%s", now.UnixMilli(), randomSuffix())
}

// LocalUserID returns the id this installation reacts with, creating and
// storing one on first use.
func LocalUserID(b Blobs, now time.Time) (string, error) {
	v, err := b.Get(LocalUserIDKey)
	if err == nil && len(v) > 0 {
		return string(v), nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	id := fmt.Sprintf("local_%d_%s", now.UnixMilli(), randomSuffix())
	if err := b.Put(LocalUserIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("store local user id: %w", err)
	}
	return id, nil
}

// randomSuffix is nine base36 characters drawn from a random uuid.
func randomSuffix() string {
	u := uuid.New()
	s := strconv.FormatUint(binary.BigEndian.Uint64(u[8:]), 36)
	if len(s) < 9 {
		s = strings.Repeat("0", 9-len(s)) + s
	}
	return s[:9]
}
