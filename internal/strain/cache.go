package strain

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Strain cache file format. This is the file-based boundary standing in for
// frame I/O, which is handled by external collaborators:
//
//	magic   [4]byte  "GWSC"
//	version uint32   currently 1
//	detLen  uint16
//	det     [detLen]byte
//	epoch   float64  GPS seconds
//	rate    float64  Hz
//	n       uint64
//	data    [n]float64
//
// All integers and floats are little-endian.
const cacheMagic = "GWSC"

const cacheVersion = 1

// WriteCache writes a series to path in the strain cache format.
func WriteCache(path, detector string, ts *TimeSeries) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(cacheMagic); err != nil {
		return err
	}
	for _, v := range []interface{}{
		uint32(cacheVersion),
		uint16(len(detector)),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.WriteString(detector); err != nil {
		return err
	}
	for _, v := range []interface{}{ts.Epoch, ts.SampleRate, uint64(len(ts.Data))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, ts.Data); err != nil {
		return err
	}
	return w.Flush()
}

// ReadCache reads a strain cache file, returning the series and the detector
// name recorded in the header.
func ReadCache(path string) (*TimeSeries, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("read cache: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, "", fmt.Errorf("read cache %s: %w", path, err)
	}
	if string(magic) != cacheMagic {
		return nil, "", fmt.Errorf("read cache %s: bad magic %q", path, magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, "", err
	}
	if version != cacheVersion {
		return nil, "", fmt.Errorf("read cache %s: unsupported version %d", path, version)
	}

	var detLen uint16
	if err := binary.Read(r, binary.LittleEndian, &detLen); err != nil {
		return nil, "", err
	}
	det := make([]byte, detLen)
	if _, err := io.ReadFull(r, det); err != nil {
		return nil, "", err
	}

	ts := &TimeSeries{}
	var n uint64
	for _, v := range []interface{}{&ts.Epoch, &ts.SampleRate, &n} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, "", err
		}
	}
	ts.Data = make([]float64, n)
	if err := binary.Read(r, binary.LittleEndian, ts.Data); err != nil {
		return nil, "", fmt.Errorf("read cache %s: truncated data: %w", path, err)
	}
	return ts, string(det), nil
}
