package instance

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/config"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/memory"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/params"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/taskschedular"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

// Fingerprint of the 1.15.2 build; the fixture lays memory out the way
// that version's offset table expects.
var fp152 = utils.Fingerprint{SizeOfImage: 0x5601000, TimeDateStamp: 0x5D3B2C45}

const (
	fixtureBase      = uintptr(0x140000000)
	fixtureImageSize = uint32(0x2000)

	dbgFlagsAddr  = uintptr(0x60000)
	playerAddr    = uintptr(0x70000)
	gameDataAddr  = uintptr(0x80000)
	menuManAddr   = uintptr(0x90000)
	goodsTableLen = 4096 * 0x60
)

// Anchor bytes satisfying "48 8B 05 ?? ?? ?? 04 48 85 C0 74 0F 48 39 88".
var anchorBytes = []byte{
	0x48, 0x8B, 0x05, 0x11, 0x22, 0x33, 0x04,
	0x48, 0x85, 0xC0, 0x74, 0x0F, 0x48, 0x39, 0x88,
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type countingMem struct {
	*memory.Buffer
	reads  int
	writes int
}

func (c *countingMem) ReadBytes(addr uintptr, size int) ([]byte, error) {
	c.reads++
	return c.Buffer.ReadBytes(addr, size)
}

func (c *countingMem) WriteBytes(addr uintptr, data []byte) error {
	c.writes++
	return c.Buffer.WriteBytes(addr, data)
}

// mapPointer maps one 8-byte slot holding a pointer value.
func mapPointer(t *testing.T, mem *memory.Buffer, name string, slot, target uintptr) {
	t.Helper()
	mem.Map(name, slot, make([]byte, 8))
	require.NoError(t, memory.WriteUint64(mem, slot, uint64(target)))
}

// liveWorld maps a fake 1.15.2 process: module image with the anchor in
// place, every chain's pointer slots, and the structures they land on.
func liveWorld(t *testing.T) (*memory.Buffer, *config.Config) {
	t.Helper()
	mem := memory.NewBuffer()

	image := make([]byte, fixtureImageSize)
	copy(image[0x500:], anchorBytes)
	mem.Map("image", fixtureBase, image)

	// Per-chain pointer slots live at their 1.15.2 image offsets, far past
	// the mapped image window, so each gets its own little region.
	mapPointer(t, mem, "slot_player", fixtureBase+0x4780118, playerAddr)
	mapPointer(t, mem, "slot_gamedata", fixtureBase+0x4783A28, gameDataAddr)
	mapPointer(t, mem, "slot_menuman", fixtureBase+0x4786FE8, menuManAddr)
	mapPointer(t, mem, "slot_dbgflags", fixtureBase+0x47A91B8, dbgFlagsAddr)

	mem.Map("dbgflags", dbgFlagsAddr, make([]byte, 0x40))
	mem.Map("player", playerAddr, make([]byte, 0x2100))
	mem.Map("gamedata", gameDataAddr, make([]byte, 0x500))
	mem.Map("menuman", menuManAddr, make([]byte, 0x800))

	// SoloParamRepository: two intermediate hops, then the goods rows at
	// hop3+0x40. The darksign row carries its id and the stock icon.
	mapPointer(t, mem, "slot_soloparam", fixtureBase+0x4798478, 0xA0000)
	sp1 := make([]byte, 0x100)
	binary.LittleEndian.PutUint64(sp1[0x68:], 0xB0000)
	mem.Map("soloparam1", 0xA0000, sp1)
	sp2 := make([]byte, 0x100)
	binary.LittleEndian.PutUint64(sp2[0x68:], 0xC0000)
	mem.Map("soloparam2", 0xB0000, sp2)

	goods := make([]byte, goodsTableLen)
	row := params.DarksignGoodsID * 0x60
	binary.LittleEndian.PutUint32(goods[row:], params.DarksignGoodsID)
	binary.LittleEndian.PutUint16(goods[row+0x20:], params.DarksignStockIconID)
	mem.Map("goods", 0xC0040, goods)

	return mem, config.Default()
}

func liveSession(t *testing.T) (*Session, *memory.Buffer) {
	t.Helper()
	mem, cfg := liveWorld(t)
	s := New(mem, fixtureBase, fixtureImageSize, fp152, cfg, testLog())
	require.False(t, s.Inert())
	require.Equal(t, "1.15.2", s.Version())
	s.OnFrameTick()
	return s, mem
}

func feature(t *testing.T, s *Session, id string) Info {
	t.Helper()
	for _, info := range s.ListFeatures() {
		if info.ID == id {
			return info
		}
	}
	t.Fatalf("no feature %q", id)
	return Info{}
}

func TestInertSessionOnZeroModuleBase(t *testing.T) {
	s := New(memory.NewBuffer(), 0, 0, fp152, config.Default(), testLog())
	require.True(t, s.Inert())
	assert.Empty(t, s.ListFeatures())

	// Nothing panics, everything refuses.
	s.OnFrameTick()
	s.OnKeyEvent(0x71, true)
	s.OnDetach()
	assert.Error(t, s.SetFeature("player_no_dead", true))
	assert.Error(t, s.SetFieldValue("EquipParamGoods", 0, "icon_id", 1))
	_, _, err := s.GetPlayerField("hp")
	assert.NoError(t, err)
	assert.Empty(t, s.Version())
}

func TestUnknownVersionRunsFailClosed(t *testing.T) {
	mem := &countingMem{Buffer: memory.NewBuffer()}
	mem.Map("image", fixtureBase, make([]byte, fixtureImageSize))

	s := New(mem, fixtureBase, fixtureImageSize,
		utils.Fingerprint{SizeOfImage: 0xBAD, TimeDateStamp: 0xBAD},
		config.Default(), testLog())
	require.False(t, s.Inert())
	assert.Empty(t, s.Version())

	for i := 0; i < 5; i++ {
		s.OnFrameTick()
	}
	// Pressing hotkeys and toggling features must stay inert writes-wise.
	s.OnKeyEvent(0x71, true)
	require.NoError(t, s.SetFeature("player_no_dead", true))

	assert.Zero(t, mem.reads, "fail-closed session must not read game memory")
	assert.Zero(t, mem.writes, "fail-closed session must not write game memory")

	assert.Equal(t, StatusUnsupported, feature(t, s, "player_no_dead").Status)
	assert.Equal(t, StatusUnsupported, feature(t, s, "darksign_icon").Status)

	err := s.SetPlayerField("hp", 1)
	assert.Error(t, err)
	_, err = s.GetFieldValue("EquipParamGoods", 117, "icon_id")
	assert.ErrorIs(t, err, params.ErrSchemaUnsupported)
}

func TestAnchorMismatchDisablesVersion(t *testing.T) {
	mem := memory.NewBuffer()
	// Right fingerprint, but the image does not carry the anchor bytes.
	mem.Map("image", fixtureBase, make([]byte, fixtureImageSize))

	s := New(mem, fixtureBase, fixtureImageSize, fp152, config.Default(), testLog())
	require.False(t, s.Inert())
	assert.Empty(t, s.Version())
	assert.Equal(t, StatusUnsupported, feature(t, s, "player_no_dead").Status)
}

func TestFlagToggleForcesAndRestoresBit(t *testing.T) {
	s, mem := liveSession(t)
	flags := mem.Bytes("dbgflags")
	flags[0] = 0b0000_0101 // player_no_dead is bit 1 of byte 0

	require.NoError(t, s.SetFeature("player_no_dead", true))
	assert.Equal(t, byte(0b0000_0111), flags[0])
	info := feature(t, s, "player_no_dead")
	assert.True(t, info.Enabled)
	assert.Equal(t, StatusActive, info.Status)

	// The game clears the bit; the next tick forces it back.
	flags[0] = 0b0000_0101
	s.OnFrameTick()
	assert.Equal(t, byte(0b0000_0111), flags[0])

	require.NoError(t, s.SetFeature("player_no_dead", false))
	assert.Equal(t, byte(0b0000_0101), flags[0])
	assert.False(t, feature(t, s, "player_no_dead").Enabled)
}

func TestHotkeyTogglesFlag(t *testing.T) {
	s, mem := liveSession(t)
	flags := mem.Bytes("dbgflags")

	s.OnKeyEvent(0x71, true) // f2 -> player_no_dead
	assert.True(t, feature(t, s, "player_no_dead").Enabled)
	assert.Equal(t, byte(0b10), flags[0])

	s.OnKeyEvent(0x71, false)
	assert.True(t, feature(t, s, "player_no_dead").Enabled, "release is not a toggle")

	s.OnKeyEvent(0x71, true)
	assert.False(t, feature(t, s, "player_no_dead").Enabled)
	assert.Equal(t, byte(0), flags[0])
}

func TestCycleSpeedHotkeyAdvances(t *testing.T) {
	s, _ := liveSession(t)
	require.NoError(t, s.SetPlayerField("speed", 30))

	press := func() {
		s.OnKeyEvent(0x76, true) // f7 -> cycle_speed
		s.OnKeyEvent(0x76, false)
	}
	speed := func() float64 {
		v, ok, err := s.GetPlayerField("speed")
		require.NoError(t, err)
		require.True(t, ok)
		return v
	}

	// Each press moves to the next configured speed, never back to off.
	press()
	assert.True(t, feature(t, s, "cycle_speed").Enabled)
	assert.Equal(t, 0.25, speed())
	press()
	assert.Equal(t, 1.0, speed())
	assert.True(t, feature(t, s, "cycle_speed").Enabled)
	press()
	assert.Equal(t, 2.0, speed())
	press()
	assert.Equal(t, 5.0, speed())

	// Past the last speed the original comes back and the feature is off.
	press()
	assert.Equal(t, 30.0, speed())
	assert.False(t, feature(t, s, "cycle_speed").Enabled)

	// The next press starts the cycle over.
	press()
	assert.Equal(t, 0.25, speed())
}

func TestPositionNudgeKeys(t *testing.T) {
	mem, cfg := liveWorld(t)
	for i := range cfg.Commands {
		if cfg.Commands[i].Position {
			cfg.Commands[i].Nudge = 0.5
		}
	}
	s := New(mem, fixtureBase, fixtureImageSize, fp152, cfg, testLog())
	s.OnFrameTick()
	require.NoError(t, s.SetPlayerField("pos_y", 10))

	s.OnKeyEvent(0x26, true) // up arrow
	s.OnKeyEvent(0x26, false)
	v, ok, err := s.GetPlayerField("pos_y")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10.5, v)

	for i := 0; i < 2; i++ {
		s.OnKeyEvent(0x28, true) // down arrow
		s.OnKeyEvent(0x28, false)
	}
	v, _, err = s.GetPlayerField("pos_y")
	require.NoError(t, err)
	assert.Equal(t, 9.5, v)

	// Nudging alone never touches the saved position slot.
	s.OnKeyEvent(0x70, true)
	v, _, err = s.GetPlayerField("pos_y")
	require.NoError(t, err)
	assert.Equal(t, 9.5, v)
}

func TestPositionSaveAndRestore(t *testing.T) {
	s, _ := liveSession(t)
	require.NoError(t, s.SetPlayerField("pos_x", 101.5))
	require.NoError(t, s.SetPlayerField("pos_y", -3))
	require.NoError(t, s.SetPlayerField("pos_z", 7.25))
	require.NoError(t, s.SetPlayerField("pos_angle", 1.5))

	// lshift+f1 saves, plain f1 teleports back.
	s.OnKeyEvent(0xA0, true)
	s.OnKeyEvent(0x70, true)
	s.OnKeyEvent(0x70, false)
	s.OnKeyEvent(0xA0, false)

	require.NoError(t, s.SetPlayerField("pos_x", 999))
	s.OnKeyEvent(0x70, true)

	v, ok, err := s.GetPlayerField("pos_x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 101.5, v)
	v, _, err = s.GetPlayerField("pos_angle")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestSoulsGrant(t *testing.T) {
	s, _ := liveSession(t)
	require.NoError(t, s.SetPlayerField("souls", 100))

	require.NoError(t, s.SetFeature("souls", true))
	v, ok, err := s.GetPlayerField("souls")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(10100), v)

	// One-shot command, never reads as enabled.
	assert.False(t, feature(t, s, "souls").Enabled)
}

func TestQuitout(t *testing.T) {
	s, mem := liveSession(t)
	require.NoError(t, s.SetFeature("quitout", true))
	assert.Equal(t, byte(1), mem.Bytes("menuman")[0x250])
}

func TestDarksignIconPatchedOnAttachAndRevertedOnDetach(t *testing.T) {
	s, mem := liveSession(t)
	goods := mem.Bytes("goods")
	iconOff := params.DarksignGoodsID*0x60 + 0x20

	// Applied by the first tick in liveSession.
	assert.Equal(t, uint16(params.DarksignToolIconID), binary.LittleEndian.Uint16(goods[iconOff:]))
	assert.Equal(t, StatusActive, feature(t, s, "darksign_icon").Status)

	s.OnDetach()
	assert.Equal(t, uint16(params.DarksignStockIconID), binary.LittleEndian.Uint16(goods[iconOff:]))
}

func TestDetachRestoresForcedFlags(t *testing.T) {
	s, mem := liveSession(t)
	flags := mem.Bytes("dbgflags")
	flags[0] = 0b01

	require.NoError(t, s.SetFeature("player_no_dead", true))
	require.NoError(t, s.SetFeature("player_no_damage", true))
	assert.Equal(t, byte(0b111), flags[0])

	s.OnDetach()
	assert.Equal(t, byte(0b01), flags[0])
}

func TestParamFieldEditThroughSession(t *testing.T) {
	s, _ := liveSession(t)
	require.NoError(t, s.SetFieldValue("EquipParamGoods", params.DarksignGoodsID, "max_num", 99))
	v, err := s.GetFieldValue("EquipParamGoods", params.DarksignGoodsID, "max_num")
	require.NoError(t, err)
	assert.Equal(t, float64(99), v)

	err = s.SetFieldValue("EquipParamGoods", params.DarksignGoodsID, "goods_category", 99)
	assert.ErrorIs(t, err, params.ErrEncodeOverflow)
}

func TestUnresolvedChainMakesFeatureUnavailable(t *testing.T) {
	s, mem := liveSession(t)

	// Loading screen: null the debug-flags root.
	require.NoError(t, memory.WriteUint64(mem, fixtureBase+0x47A91B8, 0))
	s.OnFrameTick()

	require.NoError(t, s.SetFeature("player_no_dead", true))
	assert.Equal(t, StatusUnavailable, feature(t, s, "player_no_dead").Status)

	// Structure comes back, the forced bit lands on the next tick.
	require.NoError(t, memory.WriteUint64(mem, fixtureBase+0x47A91B8, uint64(dbgFlagsAddr)))
	s.OnFrameTick()
	assert.Equal(t, StatusActive, feature(t, s, "player_no_dead").Status)
	assert.Equal(t, byte(0b10), mem.Bytes("dbgflags")[0])
}

func TestSetFeatureUnknownID(t *testing.T) {
	s, _ := liveSession(t)
	assert.Error(t, s.SetFeature("warp_to_kiln", true))
}

func TestSchedulerSequenceThroughSession(t *testing.T) {
	s, _ := liveSession(t)
	sched := s.Scheduler()
	darksign := params.RowRef{TableID: "EquipParamGoods", Row: params.DarksignGoodsID}
	require.NoError(t, sched.Add(&taskschedular.Sequence{
		Name:     "bulk_goods",
		Requires: []string{"EquipParamGoods"},
		Steps: []taskschedular.Step{
			taskschedular.SetField(darksign, "max_num", 600),
			taskschedular.WaitUntil(func(p taskschedular.Probe) bool {
				v, err := p.Field(darksign, "max_num")
				return err == nil && v == 600
			}),
		},
	}))

	require.NoError(t, sched.Start("bulk_goods"))
	s.OnFrameTick()
	v, err := s.GetFieldValue("EquipParamGoods", params.DarksignGoodsID, "max_num")
	require.NoError(t, err)
	assert.Equal(t, float64(600), v)
	assert.Equal(t, taskschedular.Running, sched.State("bulk_goods"))

	s.OnFrameTick()
	s.OnFrameTick()
	assert.Equal(t, taskschedular.Done, sched.State("bulk_goods"))
}
