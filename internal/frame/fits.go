// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package frame

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mlnoga/flatfield/internal/stats"
)

// FITS storage for floating point maps, BITPIX -32 only.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const fitsLineSize int = 80    // Line size of a FITS header

// Writes an in-memory image to a FITS file with given filename.
// Creates/overwrites the file if necessary
func (f *Image) WriteFITS(fileName string) error {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	return f.writeFITS(file)
}

// Writes an in-memory image to an io.Writer as 32-bit floating point FITS
func (f *Image) writeFITS(w io.Writer) error {
	// Build header in string buffer
	sb := strings.Builder{}
	writeFITSBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeFITSInt32(&sb, "BITPIX", -32, "    32-bit floating point")
	writeFITSInt32(&sb, "NAXIS", int32(len(f.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(f.Naxisn); i++ {
		writeFITSInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), f.Naxisn[i], "[1] Axis size")
	}
	writeFITSEnd(&sb)

	// Pad current header block with spaces if necessary
	bytesInHeaderBlock := (sb.Len() % fitsBlockSize)
	if bytesInHeaderBlock > 0 {
		for i := bytesInHeaderBlock; i < fitsBlockSize; i++ {
			sb.WriteRune(' ')
		}
	}

	// Write header block(s)
	_, err := w.Write([]byte(sb.String()))
	if err != nil {
		return err
	}

	// Write payload data in network byte order, preserving exact bit patterns
	return writeFITSFloat32Array(w, f.Data)
}

// Writes a FITS header boolean value
func writeFITSBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeFITSInt32(w io.Writer, key string, value int32, comment string) {
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header end record
func writeFITSEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", fitsLineSize-3))
}

// Writes FITS binary body data in network byte order
func writeFITSFloat32Array(w io.Writer, data []float32) error {
	buf := make([]byte, 16*1024)

	for block := 0; block < len(data); block += len(buf) >> 2 {
		size := len(data) - block
		if size > len(buf)>>2 {
			size = len(buf) >> 2
		}

		for offset := 0; offset < size; offset++ {
			val := math.Float32bits(data[block+offset])
			buf[(offset<<2)+0] = byte(val >> 24)
			buf[(offset<<2)+1] = byte(val >> 16)
			buf[(offset<<2)+2] = byte(val >> 8)
			buf[(offset<<2)+3] = byte(val)
		}
		_, err := w.Write(buf[:(size << 2)])
		if err != nil {
			return err
		}
	}
	return nil
}

// Reads a 32-bit floating point FITS file into the image
func (f *Image) ReadFITS(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	return f.readFITS(bufio.NewReader(file), fileName)
}

func (f *Image) readFITS(r io.Reader, fileName string) error {
	bitpix, naxisn, err := readFITSHeader(r, fileName)
	if err != nil {
		return err
	}
	if bitpix != -32 {
		return fmt.Errorf("%s: unsupported FITS bitpix %d, expected -32", fileName, bitpix)
	}

	pixels := int32(1)
	for _, naxis := range naxisn {
		pixels *= naxis
	}
	f.Bitpix = bitpix
	f.Naxisn = naxisn
	f.Pixels = pixels
	f.Data = make([]float32, pixels)

	if err := readFITSFloat32Array(r, f.Data); err != nil {
		return fmt.Errorf("%s: %s", fileName, err.Error())
	}
	f.Stats = stats.CalcStats(f.Data)
	return nil
}

// Parses FITS header blocks up to and including the END record
func readFITSHeader(r io.Reader, fileName string) (bitpix int32, naxisn []int32, err error) {
	block := make([]byte, fitsBlockSize)
	values := map[string]int32{}
	end := false
	for !end {
		if _, err = io.ReadFull(r, block); err != nil {
			return 0, nil, fmt.Errorf("%s: incomplete FITS header: %s", fileName, err.Error())
		}
		for line := 0; line < fitsBlockSize; line += fitsLineSize {
			card := string(block[line : line+fitsLineSize])
			key := strings.TrimSpace(card[0:8])
			if key == "END" {
				end = true
				break
			}
			if key == "" || key == "COMMENT" || key == "HISTORY" || len(card) < 10 || card[8] != '=' {
				continue
			}
			value := strings.TrimSpace(card[10:])
			if slash := strings.IndexByte(value, '/'); slash >= 0 {
				value = strings.TrimSpace(value[:slash])
			}
			if i, convErr := strconv.ParseInt(value, 10, 32); convErr == nil {
				values[key] = int32(i)
			}
		}
	}

	bitpix, ok := values["BITPIX"]
	if !ok {
		return 0, nil, fmt.Errorf("%s: FITS header lacks BITPIX", fileName)
	}
	naxis, ok := values["NAXIS"]
	if !ok || naxis < 1 {
		return 0, nil, fmt.Errorf("%s: FITS header lacks NAXIS", fileName)
	}
	naxisn = make([]int32, naxis)
	for i := int32(0); i < naxis; i++ {
		n, ok := values[fmt.Sprintf("NAXIS%d", i+1)]
		if !ok || n < 1 {
			return 0, nil, fmt.Errorf("%s: FITS header lacks NAXIS%d", fileName, i+1)
		}
		naxisn[i] = n
	}
	return bitpix, naxisn, nil
}

// Reads FITS binary body data in network byte order
func readFITSFloat32Array(r io.Reader, data []float32) error {
	buf := make([]byte, 16*1024)

	for block := 0; block < len(data); block += len(buf) >> 2 {
		size := len(data) - block
		if size > len(buf)>>2 {
			size = len(buf) >> 2
		}
		if _, err := io.ReadFull(r, buf[:size<<2]); err != nil {
			return fmt.Errorf("incomplete FITS data unit: %s", err.Error())
		}
		for offset := 0; offset < size; offset++ {
			val := uint32(buf[(offset<<2)+0])<<24 |
				uint32(buf[(offset<<2)+1])<<16 |
				uint32(buf[(offset<<2)+2])<<8 |
				uint32(buf[(offset<<2)+3])
			data[block+offset] = math.Float32frombits(val)
		}
	}
	return nil
}
