package firmware

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/vamshik113/go-ota-dfu/protocol"
)

// MaxImageSize bounds images read from disk. No nRF5 part has more flash.
const MaxImageSize = 16 << 20

// ManifestName is the manifest file inside a DFU zip package.
const ManifestName = "manifest.json"

// Bundle is a firmware image together with its init packet.
type Bundle struct {
	// Image is the firmware binary sent to the peer
	Image []byte

	// Descriptor is the init packet (.dat); empty when none was given
	Descriptor []byte

	// Name is the manifest entry the bundle was taken from, e.g.
	// "application"; empty when loaded from loose files
	Name string

	// ImageType is the legacy START_DFU image type matching Name
	ImageType byte
}

// Manifest is the manifest.json of a DFU zip package.
type Manifest struct {
	Application          *ManifestImage `json:"application,omitempty"`
	Bootloader           *ManifestImage `json:"bootloader,omitempty"`
	SoftDevice           *ManifestImage `json:"softdevice,omitempty"`
	SoftDeviceBootloader *ManifestImage `json:"softdevice_bootloader,omitempty"`
}

// ManifestImage names the files of one image in a DFU zip package.
type ManifestImage struct {
	BinFile string `json:"bin_file"`
	DatFile string `json:"dat_file"`
}

// LoadImage reads a firmware image. Files ending in .hex are parsed as Intel
// HEX; anything else is taken as a raw binary.
func LoadImage(name string) ([]byte, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer func() { _ = f.Close() }()

	return readImage(f, name)
}

func readImage(r io.Reader, name string) ([]byte, error) {
	if strings.EqualFold(path.Ext(name), ".hex") {
		image, err := ParseHex(r)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", name)
		}
		return image, nil
	}

	image, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	if len(image) > MaxImageSize {
		return nil, errors.Errorf("%s is larger than %d bytes", name, MaxImageSize)
	}
	if len(image) == 0 {
		return nil, errors.Errorf("%s is empty", name)
	}
	return image, nil
}

// LoadDescriptor reads an init packet (.dat file).
func LoadDescriptor(name string) ([]byte, error) {
	desc, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read init packet")
	}
	return desc, nil
}

// Load reads firmware either from an image file and an optional init packet,
// or from a DFU zip package. Giving a package together with loose files is an
// error.
//
// Example:
//
//	b, err := firmware.Load("", "", "app_dfu_package.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%s: %d bytes\n", b.Name, len(b.Image))
func Load(imagePath, descriptorPath, zipPath string) (*Bundle, error) {
	if zipPath != "" {
		if imagePath != "" || descriptorPath != "" {
			return nil, errors.New("conflicting inputs: give either a zip package or image files")
		}
		return OpenBundle(zipPath)
	}
	if imagePath == "" {
		return nil, errors.New("no firmware image given")
	}

	image, err := LoadImage(imagePath)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Image: image, ImageType: protocol.ImageApplication}
	if descriptorPath != "" {
		if b.Descriptor, err = LoadDescriptor(descriptorPath); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// OpenBundle reads a DFU zip package. The image named by manifest.json is
// used, preferring application over bootloader over softdevice. Packages
// without a manifest must hold one .bin (or .hex) and one .dat file.
func OpenBundle(name string) (*Bundle, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open package")
	}
	defer func() { _ = zr.Close() }()

	return readBundle(&zr.Reader)
}

func readBundle(zr *zip.Reader) (*Bundle, error) {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var (
		entry *ManifestImage
		b     = &Bundle{}
	)

	if mf, ok := files[ManifestName]; ok {
		raw, err := readZipFile(mf)
		if err != nil {
			return nil, err
		}
		var doc struct {
			Manifest Manifest `json:"manifest"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, errors.Wrap(err, "invalid manifest")
		}
		if entry, b.Name, b.ImageType, err = doc.Manifest.pick(); err != nil {
			return nil, err
		}
	} else {
		entry = &ManifestImage{}
		for n := range files {
			switch strings.ToLower(path.Ext(n)) {
			case ".bin", ".hex":
				if entry.BinFile != "" {
					return nil, errors.Errorf("package holds more than one image: %s, %s", entry.BinFile, n)
				}
				entry.BinFile = n
			case ".dat":
				if entry.DatFile != "" {
					return nil, errors.Errorf("package holds more than one init packet: %s, %s", entry.DatFile, n)
				}
				entry.DatFile = n
			}
		}
		if entry.BinFile == "" || entry.DatFile == "" {
			return nil, errors.New("package without manifest needs a .bin and a .dat file")
		}
		b.ImageType = protocol.ImageApplication
	}

	img, ok := files[entry.BinFile]
	if !ok {
		return nil, errors.Errorf("package is missing %s", entry.BinFile)
	}
	rc, err := img.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", entry.BinFile)
	}
	defer func() { _ = rc.Close() }()
	if b.Image, err = readImage(rc, entry.BinFile); err != nil {
		return nil, err
	}

	if entry.DatFile != "" {
		dat, ok := files[entry.DatFile]
		if !ok {
			return nil, errors.Errorf("package is missing %s", entry.DatFile)
		}
		if b.Descriptor, err = readZipFile(dat); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// pick returns the image to flash.
func (m Manifest) pick() (*ManifestImage, string, byte, error) {
	switch {
	case m.Application != nil:
		return m.Application, "application", protocol.ImageApplication, nil
	case m.Bootloader != nil:
		return m.Bootloader, "bootloader", protocol.ImageBootloader, nil
	case m.SoftDevice != nil:
		return m.SoftDevice, "softdevice", protocol.ImageSoftDevice, nil
	case m.SoftDeviceBootloader != nil:
		return nil, "", 0, errors.New("combined softdevice_bootloader images are not supported")
	default:
		return nil, "", 0, errors.New("manifest names no image")
	}
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", f.Name)
	}
	defer func() { _ = rc.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(rc, MaxImageSize)); err != nil {
		return nil, errors.Wrapf(err, "read %s", f.Name)
	}
	return buf.Bytes(), nil
}
