// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"errors"
	"unsafe"
)

var ErrShortRead = errors.New("short read")

type Serialize interface {
	WriteData(buffer []byte, len int) error
	Close() error
}

type Deserialize interface {
	ReadData(buffer []byte, len int) error
	Close() error
}

func PointerToSlice[T any](base unsafe.Pointer, len int) []T {
	return unsafe.Slice((*T)(base), len)
}

func UnsafeStringToBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func Write[T any](value T, serial Serialize) error {
	cnt := int(unsafe.Sizeof(value))
	buf := PointerToSlice[byte](unsafe.Pointer(&value), cnt)
	return serial.WriteData(buf, cnt)
}

func WriteString(s string, serial Serialize) error {
	err := Write[uint32](uint32(len(s)), serial)
	if err != nil {
		return err
	}
	if len(s) > 0 {
		return serial.WriteData(UnsafeStringToBytes(s), len(s))
	}
	return nil
}

// WriteSlice writes a length prefix then the raw elements of a fixed size
// element slice.
func WriteSlice[T any](data []T, serial Serialize) error {
	err := Write[uint32](uint32(len(data)), serial)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var zero T
	cnt := len(data) * int(unsafe.Sizeof(zero))
	buf := PointerToSlice[byte](unsafe.Pointer(unsafe.SliceData(data)), cnt)
	return serial.WriteData(buf, cnt)
}

func Read[T any](value *T, deserial Deserialize) error {
	cnt := int(unsafe.Sizeof(*value))
	buf := PointerToSlice[byte](unsafe.Pointer(value), cnt)
	return deserial.ReadData(buf, cnt)
}

func ReadString(deserial Deserialize) (string, error) {
	var l uint32
	err := Read[uint32](&l, deserial)
	if err != nil {
		return "", err
	}
	buf := make([]byte, l)
	err = deserial.ReadData(buf, int(l))
	if err != nil {
		return "", err
	}
	return string(buf), err
}

func ReadSlice[T any](deserial Deserialize) ([]T, error) {
	var l uint32
	err := Read[uint32](&l, deserial)
	if err != nil {
		return nil, err
	}
	data := make([]T, l)
	if l == 0 {
		return data, nil
	}
	var zero T
	cnt := int(l) * int(unsafe.Sizeof(zero))
	buf := PointerToSlice[byte](unsafe.Pointer(unsafe.SliceData(data)), cnt)
	err = deserial.ReadData(buf, cnt)
	if err != nil {
		return nil, err
	}
	return data, nil
}

var _ Serialize = new(MemSerialize)

// MemSerialize appends everything into one growing byte slice.
type MemSerialize struct {
	buf []byte
}

func NewMemSerialize(capacity int) *MemSerialize {
	return &MemSerialize{buf: make([]byte, 0, capacity)}
}

func (serial *MemSerialize) WriteData(buffer []byte, len int) error {
	serial.buf = append(serial.buf, buffer[:len]...)
	return nil
}

func (serial *MemSerialize) Bytes() []byte {
	return serial.buf
}

func (serial *MemSerialize) Close() error {
	return nil
}

var _ Deserialize = new(MemDeserialize)

type MemDeserialize struct {
	buf []byte
	off int
}

func NewMemDeserialize(data []byte) *MemDeserialize {
	return &MemDeserialize{buf: data}
}

func (deserial *MemDeserialize) ReadData(buffer []byte, len int) error {
	if deserial.off+len > deserial.Size() {
		return ErrShortRead
	}
	copy(buffer[:len], deserial.buf[deserial.off:deserial.off+len])
	deserial.off += len
	return nil
}

func (deserial *MemDeserialize) Size() int {
	return len(deserial.buf)
}

func (deserial *MemDeserialize) Remaining() int {
	return len(deserial.buf) - deserial.off
}

func (deserial *MemDeserialize) Close() error {
	return nil
}
