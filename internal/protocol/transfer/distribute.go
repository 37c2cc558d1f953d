package transfer

import (
	"context"
	"fmt"
	"time"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
)

// BlobLen is the fixed size of every distributed blob. Shorter values are
// zero padded so the pack always receives eight chunks.
const BlobLen = 64

// Keys is the material handed to a pack controller.
type Keys struct {
	PackKeyHalf     []byte
	AppKeyHalf      []byte
	PackComponentID []byte
	AppComponentID  []byte
}

type item struct {
	name string
	base uint32
	data []byte
}

func (k Keys) items() []item {
	return []item{
		{"pack_key_half", schema.IDTransferPackKeyHalf, k.PackKeyHalf},
		{"app_key_half", schema.IDTransferAppKeyHalf, k.AppKeyHalf},
		{"pack_component_id", schema.IDTransferPackComponent, k.PackComponentID},
		{"app_component_id", schema.IDTransferAppComponent, k.AppComponentID},
	}
}

// TransferBases lists the request bases in distribution order.
func TransferBases() []uint32 {
	return []uint32{
		schema.IDTransferPackKeyHalf,
		schema.IDTransferAppKeyHalf,
		schema.IDTransferPackComponent,
		schema.IDTransferAppComponent,
	}
}

// Distribute runs the four transfers to segment one after another and stops
// at the first that does not succeed. Results for every attempted transfer
// are returned.
func Distribute(ctx context.Context, s *Sender, segment uint8, keys Keys) ([]Result, error) {
	items := keys.items()
	for _, it := range items {
		if len(it.data) == 0 {
			return nil, fmt.Errorf("transfer: %s is empty", it.name)
		}
		if len(it.data) > BlobLen {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrPayloadTooLarge, it.name, len(it.data))
		}
	}

	results := make([]Result, 0, len(items))
	for i, it := range items {
		if i > 0 && s.cfg.TransferGap > 0 {
			time.Sleep(s.cfg.TransferGap)
		}
		blob := make([]byte, BlobLen)
		copy(blob, it.data)
		logs.Infof("transfer.Distribute %s base=0x%03X segment=%d", it.name, it.base, segment)
		res, err := s.Send(ctx, it.base, segment, blob)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("transfer: %s: %w", it.name, err)
		}
	}
	return results, nil
}
