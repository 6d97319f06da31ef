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

package fits

import (
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strings"
)

// Writes an in-memory FITS image to a file with the given name, dispatching
// on the file extension. ".fits"/".fit"/".fts" save 32-bit floating point
// FITS, ".tif"/".tiff" a 16-bit TIFF, ".jpg"/".jpeg" an 8-bit JPEG.
// Creates/overwrites the file if necessary
func (fits *Image) WriteFile(fileName string) error {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".fits", ".fit", ".fts":
		f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		return fits.Write(f)
	case ".tif", ".tiff":
		if fits.IsColor() {
			return fits.WriteTIFF16ToFile(fileName, fits.Stats.Min(), fits.Stats.Max(), 1.0)
		}
		return fits.WriteMonoTIFF16ToFile(fileName, fits.Stats.Min(), fits.Stats.Max(), 1.0)
	case ".jpg", ".jpeg":
		if fits.IsColor() {
			return fits.WriteJPGToFile(fileName, fits.Stats.Min(), fits.Stats.Max(), 1.0, 95)
		}
		return fits.WriteMonoJPGToFile(fileName, fits.Stats.Min(), fits.Stats.Max(), 1.0, 95)
	default:
		return fmt.Errorf("%s: unknown output file extension", fileName)
	}
}

// Writes an in-memory FITS image to a file as unsigned 16-bit integers,
// expecting pixel values as raw ADU counts in [0,65535]. This is the
// interchange format for captured frames and master darks
func (fits *Image) WriteUint16File(fileName string) error {
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return fits.WriteUint16(f)
}

// Writes an in-memory FITS image to an io.Writer as 32-bit floating point
func (fits *Image) Write(f io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "    32-bit floating point")
	fits.writeNaxisAndHeader(&sb, -32)

	if err := writeHeaderBlocks(f, &sb); err != nil {
		return err
	}
	if err := writeFloat32Array(f, fits.Data, true); err != nil {
		return err
	}
	return writeDataPadding(f, len(fits.Data)*4)
}

// Writes an in-memory FITS image to an io.Writer as unsigned 16-bit integers
// with BZERO=32768, taking pixel values as raw ADU counts
func (fits *Image) WriteUint16(f io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32(&sb, "BITPIX", 16, "    16-bit signed integers")
	fits.writeNaxisAndHeader(&sb, 16)

	if err := writeHeaderBlocks(f, &sb); err != nil {
		return err
	}
	if err := writeUint16Array(f, fits.Data); err != nil {
		return err
	}
	return writeDataPadding(f, len(fits.Data)*2)
}

// Writes the NAXIS keys and all retained header entries, then the END record.
// The caller has already written BITPIX; BZERO is emitted here only for
// integer images
func (fits *Image) writeNaxisAndHeader(sb *strings.Builder, bitpix int32) {
	writeInt32(sb, "NAXIS", int32(len(fits.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(fits.Naxisn); i++ {
		writeInt32(sb, fmt.Sprintf("NAXIS%d", i+1), fits.Naxisn[i], "[1] Axis size")
	}
	if bitpix > 0 {
		writeInt32(sb, "BZERO", 32768, "[1] Zero offset")
	}
	if fits.Exposure != 0 {
		writeFloat32(sb, "EXPTIME", fits.Exposure, "[s] Exposure duration")
	}
	if fits.Bayer != "" && len(fits.Naxisn) == 2 {
		writeString(sb, "BAYERPAT", fits.Bayer, "Bayer color filter array pattern")
	}
	for _, key := range sortedKeys(fits.Header.Strings) {
		if key == "BAYERPAT" && fits.Bayer != "" {
			continue
		}
		writeString(sb, key, fits.Header.Strings[key], "")
	}
	for _, key := range sortedKeys(fits.Header.Ints) {
		writeInt32(sb, key, fits.Header.Ints[key], "")
	}
	for _, key := range sortedKeys(fits.Header.Floats) {
		if key == "EXPTIME" && fits.Exposure != 0 {
			continue
		}
		writeFloat32(sb, key, fits.Header.Floats[key], "")
	}
	for _, key := range sortedKeys(fits.Header.Bools) {
		writeBool(sb, key, fits.Header.Bools[key], "")
	}
	for _, key := range sortedKeys(fits.Header.Dates) {
		writeString(sb, key, fits.Header.Dates[key], "")
	}
	writeEnd(sb)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Pads the header with spaces to a multiple of the FITS block size and writes it out
func writeHeaderBlocks(f io.Writer, sb *strings.Builder) error {
	bytesInHeaderBlock := sb.Len() % fitsBlockSize
	if bytesInHeaderBlock > 0 {
		for i := bytesInHeaderBlock; i < fitsBlockSize; i++ {
			sb.WriteRune(' ')
		}
	}
	_, err := f.Write([]byte(sb.String()))
	return err
}

// Pads the data unit with zero bytes to a multiple of the FITS block size
func writeDataPadding(f io.Writer, bytesWritten int) error {
	rem := bytesWritten % fitsBlockSize
	if rem == 0 {
		return nil
	}
	_, err := f.Write(make([]byte, fitsBlockSize-rem))
	return err
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float32 value. Exponential notation guarantees a
// decimal point, so integral values stay floats on re-read
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20.6E / %-47s", key, value, comment)
}

// Writes a FITS header string value, with escaping and continuations if necessary
func writeString(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}

	// escape ' characters
	value = strings.Join(strings.Split(value, "'"), "''")

	if len(value) <= 18 {
		fmt.Fprintf(w, "%-8s= '%s'%s / %-47s", key, value, strings.Repeat(" ", 18-len(value)), comment)
	} else {
		fmt.Fprintf(w, "%-8s= '%s&' / %-47s", key, value[0:17], comment)
		value = value[17:]
		for len(value) > 66 {
			fmt.Fprintf(w, "CONTINUE  '%s&' ", value[0:66])
			value = value[66:]
		}
		fmt.Fprintf(w, "CONTINUE  '%s'%s", value, strings.Repeat(" ", 50+(18-len(value))))
	}
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", 80-3))
}

// Writes FITS binary body data in network byte order.
// Optionally replaces NaNs with zeros for compatibility with other software
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += bufLen >> 2 {
		size := len(data) - block
		if size > (bufLen >> 2) {
			size = bufLen >> 2
		}

		for offset := 0; offset < size; offset++ {
			d := data[block+offset]
			if replaceNaNs && math.IsNaN(float64(d)) {
				d = 0
			}
			val := math.Float32bits(d)
			buf[(offset<<2)+0] = byte(val >> 24)
			buf[(offset<<2)+1] = byte(val >> 16)
			buf[(offset<<2)+2] = byte(val >> 8)
			buf[(offset<<2)+3] = byte(val)
		}
		if _, err := w.Write(buf[:(size << 2)]); err != nil {
			return err
		}
	}
	return nil
}

// Writes FITS binary body data as 16-bit signed integers offset by BZERO=32768
// in network byte order. Pixel values are raw ADU counts and are written
// unscaled, rounded and clamped to [0,65535]
func writeUint16Array(w io.Writer, data []float32) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += bufLen >> 1 {
		size := len(data) - block
		if size > (bufLen >> 1) {
			size = bufLen >> 1
		}

		for offset := 0; offset < size; offset++ {
			d := data[block+offset]
			if math.IsNaN(float64(d)) {
				d = 0
			}
			v := d + 0.5
			if v < 0 {
				v = 0
			}
			if v > 65535 {
				v = 65535
			}
			val := uint16(int32(uint16(v)) - 32768)
			buf[(offset<<1)+0] = byte(val >> 8)
			buf[(offset<<1)+1] = byte(val)
		}
		if _, err := w.Write(buf[:(size << 1)]); err != nil {
			return err
		}
	}
	return nil
}
