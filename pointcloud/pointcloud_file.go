package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary_compressed format for pcd: LZF compressed, fields stored column by column.
	PCDCompressed PCDType = 2
)

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}

	r, g, b := pt.RGB255()
	x := 0

	x |= (int(r) << 16)
	x |= (int(g) << 8)
	x |= (int(b) << 0)
	return x
}

func pcdIntToColor(c int) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{r, g, b, 255}
}

// ToPCD writes out a point cloud to a PCD file of the given type.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	hasColor := cloud.MetaData().HasColor
	header := "VERSION .7\n"
	if hasColor {
		header += "FIELDS x y z rgb\n" +
			"SIZE 4 4 4 4\n" +
			"TYPE F F F I\n" +
			"COUNT 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\n" +
			"SIZE 4 4 4\n" +
			"TYPE F F F\n" +
			"COUNT 1 1 1\n"
	}
	header += fmt.Sprintf("WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())

	switch outputType {
	case PCDBinary:
		header += "DATA binary\n"
	case PCDAscii:
		header += "DATA ascii\n"
	case PCDCompressed:
		header += "DATA binary_compressed\n"
	default:
		return errors.Errorf("unknown PCD type %d", outputType)
	}
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}
	if outputType == PCDCompressed {
		return writeCompressedPCDData(cloud, out, hasColor)
	}
	return writePCDData(cloud, out, outputType, hasColor)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType, hasColor bool) error {
	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		switch pcdtype {
		case PCDBinary:
			size := 12
			if hasColor {
				size = 16
			}
			buf := make([]byte, size)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], uint32(colorToPCDInt(d)))
			}
			_, err = out.Write(buf)
		case PCDAscii:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", pos.X, pos.Y, pos.Z, colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
			}
		}
		return err == nil
	})
	return err
}

// writeCompressedPCDData writes the uncompressed and compressed sizes followed by the LZF
// compressed fields, each field's values for every point stored contiguously.
func writeCompressedPCDData(cloud PointCloud, out io.Writer, hasColor bool) error {
	fields := 3
	if hasColor {
		fields = 4
	}
	n := cloud.Size()
	raw := make([]byte, 4*fields*n)
	i := 0
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(pos.X)))
		binary.LittleEndian.PutUint32(raw[4*(n+i):], math.Float32bits(float32(pos.Y)))
		binary.LittleEndian.PutUint32(raw[4*(2*n+i):], math.Float32bits(float32(pos.Z)))
		if hasColor {
			binary.LittleEndian.PutUint32(raw[4*(3*n+i):], uint32(colorToPCDInt(d)))
		}
		i++
		return true
	})

	var compressed []byte
	if len(raw) > 0 {
		// worst case LZF output is one control byte per 32 literals
		compressed = make([]byte, len(raw)+len(raw)/32+16)
		size, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "compressing pcd data")
		}
		compressed = compressed[:size]
	}

	sizes := make([]byte, 8)
	binary.LittleEndian.PutUint32(sizes, uint32(len(compressed)))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(len(raw)))
	if _, err := out.Write(sizes); err != nil {
		return err
	}
	_, err := out.Write(compressed)
	return err
}

func readCompressedPCDData(in io.Reader, header pcdHeader) ([]byte, error) {
	sizes := make([]byte, 8)
	if _, err := io.ReadFull(in, sizes); err != nil {
		return nil, errors.Wrap(err, "reading compressed pcd sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes)
	rawSize := binary.LittleEndian.Uint32(sizes[4:])
	if uint64(rawSize) != 4*uint64(header.fields)*header.points {
		return nil, errors.Errorf("compressed pcd holds %d bytes, expected %d", rawSize, 4*uint64(header.fields)*header.points)
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "reading compressed pcd data")
	}
	raw := make([]byte, rawSize)
	if rawSize == 0 {
		return raw, nil
	}
	n, err := lzf.Decompress(compressed, raw)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing pcd data")
	}
	if n != int(rawSize) {
		return nil, errors.Errorf("decompressed %d bytes, expected %d", n, rawSize)
	}
	return raw, nil
}

type pcdHeader struct {
	fields int
	size   []uint64
	points uint64
	width  uint64
	height uint64
	data   PCDType
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	var err error
	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = 3
		case "x y z rgb":
			header.fields = 4
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != header.fields {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil || header.size[i] != 4 {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE", "COUNT", "VIEWPOINT":
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err == nil && header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "invalid %s field %s", name, value)
	}
	return nil
}

// ReadPCD reads a PCD file (ascii, binary or binary_compressed, with or without rgb) into a PointCloud.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	var columns []byte
	if header.data == PCDCompressed {
		var err error
		if columns, err = readCompressedPCDData(in, header); err != nil {
			return nil, err
		}
	}

	n := int(header.points)
	pc := NewWithPrealloc(n)
	for i := 0; i < n; i++ {
		vals := make([]float64, header.fields)
		switch header.data {
		case PCDAscii:
			line, err := in.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				return nil, err
			}
			tokens := strings.Fields(line)
			if len(tokens) != header.fields {
				return nil, errors.Errorf("unexpected number of fields in point %d", i)
			}
			for j, token := range tokens {
				if vals[j], err = strconv.ParseFloat(token, 64); err != nil {
					return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
				}
			}
		case PCDCompressed:
			for j := 0; j < 3; j++ {
				vals[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(columns[4*(j*n+i):])))
			}
			if header.fields == 4 {
				vals[3] = float64(binary.LittleEndian.Uint32(columns[4*(3*n+i):]))
			}
		case PCDBinary:
			buf := make([]byte, 4*header.fields)
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "reading point %d", i)
			}
			for j := 0; j < 3; j++ {
				vals[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:])))
			}
			if header.fields == 4 {
				vals[3] = float64(binary.LittleEndian.Uint32(buf[12:]))
			}
		}
		var data Data
		if header.fields == 4 {
			data = NewColoredData(pcdIntToColor(int(vals[3])))
		}
		if err := pc.Set(r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
