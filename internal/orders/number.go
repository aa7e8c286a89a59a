package orders

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// OrderNumberPrefix starts every display order number.
const OrderNumberPrefix = "ORD-"

var suffixEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// WithPrefix returns number carrying OrderNumberPrefix exactly once. Blank input yields "".
func WithPrefix(number string) string {
	number = strings.TrimSpace(number)
	if number == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToUpper(number), OrderNumberPrefix) {
		return OrderNumberPrefix + number[len(OrderNumberPrefix):]
	}
	return OrderNumberPrefix + number
}

// SynthesizeNumber builds a display number for an order that arrived without one:
// ORD-<8 digit fragment>-<4 char suffix>. With an order id the result depends only on the id and
// createdAt, so the same order always gets the same number.
func SynthesizeNumber(orderID string, createdAt time.Time, sourcedTime bool) string {
	orderID = strings.TrimSpace(orderID)

	var seed []byte
	if orderID != "" {
		sum := sha256.Sum256([]byte(orderID))
		seed = sum[:]
	} else {
		seed = make([]byte, 8)
		if _, err := rand.Read(seed); err != nil {
			binary.BigEndian.PutUint64(seed, uint64(time.Now().UnixNano()))
		}
	}

	var fragment string
	switch {
	case sourcedTime:
		fragment = createdAt.UTC().Format("20060102")
	case orderID != "":
		fragment = fmt.Sprintf("%08d", binary.BigEndian.Uint32(seed[:4])%100_000_000)
	default:
		fragment = time.Now().UTC().Format("20060102")
	}

	suffix := suffixEncoding.EncodeToString(seed[len(seed)-5:])[:4]
	return OrderNumberPrefix + fragment + "-" + suffix
}
