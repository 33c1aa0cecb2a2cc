package util

// Bitmap is a validity mask. A nil Bits means every row is valid.
type Bitmap struct {
	Bits []uint8
}

func (bm *Bitmap) Data() []uint8 {
	return bm.Bits
}

func (bm *Bitmap) Init(count int) {
	cnt := EntryCount(count)
	bm.Bits = make([]uint8, cnt)
	for i := range bm.Bits {
		bm.Bits[i] = 0xFF
	}
}

func (bm *Bitmap) Invalid() bool {
	return len(bm.Bits) == 0
}

func (bm *Bitmap) GetEntry(eIdx uint64) uint8 {
	if bm.Invalid() {
		return 0xFF
	}
	return bm.Bits[eIdx]
}

func GetEntryIndex(idx uint64) (uint64, uint64) {
	return idx / 8, idx % 8
}

func EntryIsSet(e uint8, pos uint64) bool {
	return e&(1<<pos) != 0
}

func (bm *Bitmap) RowIsValid(idx uint64) bool {
	if bm.Invalid() {
		return true
	}
	eIdx, pos := GetEntryIndex(idx)
	return EntryIsSet(bm.Bits[eIdx], pos)
}

func (bm *Bitmap) SetValid(ridx uint64) {
	if bm.Invalid() {
		return
	}
	eIdx, pos := GetEntryIndex(ridx)
	bm.Bits[eIdx] |= 1 << pos
}

// SetInvalid clears the row. capacity sizes the mask on first use.
func (bm *Bitmap) SetInvalid(ridx uint64, capacity int) {
	if bm.Invalid() {
		bm.Init(capacity)
	}
	eIdx, pos := GetEntryIndex(ridx)
	bm.Bits[eIdx] &= ^(1 << pos)
}

func (bm *Bitmap) Grow(count int) {
	if bm.Invalid() {
		return
	}
	ncnt := EntryCount(count)
	for len(bm.Bits) < ncnt {
		bm.Bits = append(bm.Bits, 0xFF)
	}
}

func (bm *Bitmap) AllValid() bool {
	return bm.Invalid()
}

func (bm *Bitmap) CountInvalid(count int) int {
	if bm.Invalid() {
		return 0
	}
	n := 0
	for i := 0; i < count; i++ {
		if !bm.RowIsValid(uint64(i)) {
			n++
		}
	}
	return n
}

func EntryCount(cnt int) int {
	return (cnt + 7) / 8
}
