// Package policy answers the device-level questions that gate uploads:
// whether the build is official, whether the user consented, and whether
// device coredumps may leave the device.
package policy

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/crashtriage/pkg/crash"
)

// lsb-release keys.
const (
	KeyReleaseDescription = "CHROMEOS_RELEASE_DESCRIPTION"
	KeyReleaseTrack       = "CHROMEOS_RELEASE_TRACK"
	KeyReleaseBoard       = "CHROMEOS_RELEASE_BOARD"
	KeyReleaseVersion     = "CHROMEOS_RELEASE_VERSION"

	officialMarker  = "Official"
	testTrackPrefix = "test"
)

// Rejection texts.
const (
	TextNotOfficial       = "Not an official OS version"
	TextNoConsent         = "Crash reporting is disabled"
	TextDevcoreNotAllowed = "Device coredump upload not allowed"
)

// Paths locates the files the policy consults.
type Paths struct {
	LSBRelease         string
	Consent            string
	MockConsent        string
	CrashTest          string
	DeviceCoredumpFlag string
}

// Policy evaluates upload policy from on-disk state. Every question reads
// the file system afresh, so changes take effect on the next record.
type Policy struct {
	paths           Paths
	allowDevSending bool
}

// New creates a Policy. allowDevSending skips the official build check.
func New(paths Paths, allowDevSending bool) *Policy {
	return &Policy{paths: paths, allowDevSending: allowDevSending}
}

// Rejection is a policy refusal to send a record.
type Rejection struct {
	Reason crash.RemoveReason
	Text   string
}

// Check applies the upload policy to a record of the given kind. It
// returns false when the record may be sent.
func (p *Policy) Check(kind string) (Rejection, bool) {
	if !p.allowDevSending && !p.IsOfficialBuild() {
		return Rejection{Reason: crash.ReasonNotOfficialImage, Text: TextNotOfficial}, true
	}

	if !p.HasConsent() {
		return Rejection{Reason: crash.ReasonNoMetricsConsent, Text: TextNoConsent}, true
	}

	if kind == crash.KindDevcore && !p.DeviceCoredumpAllowed() {
		return Rejection{Reason: crash.ReasonDevcoreNotAllowed, Text: TextDevcoreNotAllowed}, true
	}

	return Rejection{}, false
}

// IsOfficialBuild reports whether the release description marks an
// official build.
func (p *Policy) IsOfficialBuild() bool {
	desc, err := p.ReleaseValue(KeyReleaseDescription)

	return err == nil && strings.Contains(desc, officialMarker)
}

// IsTestImage reports whether the release track names a test image.
func (p *Policy) IsTestImage() bool {
	track, err := p.ReleaseValue(KeyReleaseTrack)

	return err == nil && strings.HasPrefix(track, testTrackPrefix)
}

// HasConsent reports whether crash reporting is enabled. The mock consent
// file counts only on test images or while a crash test runs.
func (p *Policy) HasConsent() bool {
	if exists(p.paths.MockConsent) && (p.IsTestImage() || p.IsCrashTestInProgress()) {
		return true
	}

	return exists(p.paths.Consent)
}

// IsCrashTestInProgress reports whether an integration crash test is
// running.
func (p *Policy) IsCrashTestInProgress() bool {
	return exists(p.paths.CrashTest)
}

// DeviceCoredumpAllowed reports whether device coredumps may be uploaded.
func (p *Policy) DeviceCoredumpAllowed() bool {
	return exists(p.paths.DeviceCoredumpFlag)
}

// ReleaseValue returns one key of the lsb-release file.
func (p *Policy) ReleaseValue(key string) (string, error) {
	release, err := ReadLSBRelease(p.paths.LSBRelease)
	if err != nil {
		return "", err
	}

	return release[key], nil
}

// ReadLSBRelease parses a KEY=VALUE release file. Keys are returned in
// upper case as written in the file.
func ReadLSBRelease(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lsb-release: %w", err)
	}

	v := viper.New()
	v.SetConfigType("env")

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parse lsb-release: %w", err)
	}

	out := make(map[string]string, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		out[strings.ToUpper(key)] = v.GetString(key)
	}

	return out, nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}

	_, err := os.Stat(path)

	return err == nil
}
