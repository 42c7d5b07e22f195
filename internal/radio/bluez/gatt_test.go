package bluez

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardio/kardiod/internal/radio"
)

func newTestService(desc *radio.ServiceDescription) *gattService {
	return newGATTService(&Stack{}, desc, 0)
}

func TestNewGATTService_Flags(t *testing.T) {
	svc := newTestService(&radio.ServiceDescription{
		ID:               radio.ServicePulseOximeter,
		UUID:             "1822",
		MeasurementUUID:  "2A5F",
		SupportsIndicate: true,
	})

	assert.Equal(t, []string{"notify", "indicate"}, svc.measurement.flags)
	assert.Equal(t, radio.SubscriptionNotify|radio.SubscriptionIndicate,
		svc.measurement.subscriptionMode())
}

func TestNewGATTService_StaticCharacteristicsReadOnly(t *testing.T) {
	svc := newTestService(&radio.ServiceDescription{
		ID:              radio.ServiceHeartRate,
		UUID:            "180D",
		MeasurementUUID: "2A37",
		Static:          []radio.StaticValue{{UUID: "2A38", Value: []byte{0x01}}},
	})

	require.Len(t, svc.characteristics, 2)
	static := svc.characteristics[1]
	assert.Equal(t, []string{"read"}, static.flags)

	v, dberr := static.ReadValue(nil)
	require.Nil(t, dberr)
	assert.Equal(t, []byte{0x01}, v)
}

// setValue before export fails but still records the frame for later reads.
func TestCharacteristicSetValue_NotExported(t *testing.T) {
	svc := newTestService(&radio.ServiceDescription{
		ID:              radio.ServiceHeartRate,
		UUID:            "180D",
		MeasurementUUID: "2A37",
	})

	err := svc.measurement.setValue([]byte{0x06, 90})
	require.Error(t, err)

	v, dberr := svc.measurement.ReadValue(nil)
	require.Nil(t, dberr)
	assert.Equal(t, []byte{0x06, 90}, v)
}

// godbus dispatches ReadValue on its own goroutine while the send path
// writes frames; both must be safe to run concurrently.
func TestCharacteristicValue_ConcurrentAccess(t *testing.T) {
	svc := newTestService(&radio.ServiceDescription{
		ID:              radio.ServiceHeartRate,
		UUID:            "180D",
		MeasurementUUID: "2A37",
	})
	c := svc.measurement

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func(n byte) {
			defer wg.Done()
			_ = c.setValue([]byte{0x06, n})
		}(byte(i))
		go func() {
			defer wg.Done()
			v, _ := c.ReadValue(nil)
			if len(v) == 2 {
				assert.Equal(t, byte(0x06), v[0])
			}
		}()
	}
	wg.Wait()
}
