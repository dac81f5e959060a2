// Package tapelib wraps the external tools a tape library and drive expose
// (mtx, ltfs/mkltfs, mt, sg_inq, sg_logs, stenc, tapeinfo) behind a small Go
// interface, treating each as a black box the rest of the pipeline never
// shells out to directly.
package tapelib

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/RoseOO/tapebackarr/internal/cmdutil"
)

// SlotType enumerates the autochanger slot kinds mtx reports.
type SlotType string

const (
	SlotStorage      SlotType = "storage"
	SlotDrive        SlotType = "drive"
	SlotImportExport SlotType = "import_export"
)

// Slot is one element of an `mtx status` inventory.
type Slot struct {
	Number   int
	Type     SlotType
	Barcode  string
	IsEmpty  bool
}

// DriveStatus mirrors the subset of `mt status` the pipeline cares about.
type DriveStatus struct {
	Online  bool
	Density string
	LTOType string
}

// LTOCapacities maps LTO generation to native capacity in bytes. The
// Write stage does not read it: it resolves percentage-based
// tape-keep-free thresholds against the mounted volume's FreeSpace().Total.
var LTOCapacities = map[string]int64{
	"LTO-1": 100_000_000_000,
	"LTO-2": 200_000_000_000,
	"LTO-3": 400_000_000_000,
	"LTO-4": 800_000_000_000,
	"LTO-5": 1_500_000_000_000,
	"LTO-6": 2_500_000_000_000,
	"LTO-7": 6_000_000_000_000,
	"LTO-8": 12_000_000_000_000,
	"LTO-9": 18_000_000_000_000,
}

// densityToLTOType maps SCSI density codes to LTO generation strings.
var densityToLTOType = map[string]string{
	"0x40": "LTO-1",
	"0x42": "LTO-2",
	"0x44": "LTO-3",
	"0x46": "LTO-4",
	"0x58": "LTO-5",
	"0x5a": "LTO-6",
	"0x5c": "LTO-7",
	"0x5d": "LTO-7",
	"0x5e": "LTO-8",
	"0x60": "LTO-9",
}

// LTOTypeFromDensity resolves a SCSI density code (e.g. "0x58") to an LTO
// generation string.
func LTOTypeFromDensity(densityCode string) (string, bool) {
	t, ok := densityToLTOType[strings.ToLower(densityCode)]
	return t, ok
}

// LTOTypeFromBarcode applies the barcode-suffix convention some libraries
// use (e.g. a label ending "L4" or "L5" names the generation that wrote
// it), falling back to false when the barcode carries no such suffix.
func LTOTypeFromBarcode(barcode string) (string, bool) {
	re := regexp.MustCompile(`L([1-9])$`)
	m := re.FindStringSubmatch(strings.ToUpper(barcode))
	if m == nil {
		return "", false
	}
	return "LTO-" + m[1], true
}

// Controller drives one tape library + drive pair via mtx/mt/ltfs and the
// diagnostic SCSI tools. Every method shells out; callers inject a
// Controller so the rest of the pipeline can be tested without real
// hardware.
type Controller struct {
	ChangerDevice string // e.g. /dev/sg2, used by mtx
	DriveDevice   string // e.g. /dev/nst0, used by mt/ltfs
	MountPoint    string
	Timeout       time.Duration
}

// New returns a Controller with a default 30s per-command timeout.
func New(changerDevice, driveDevice, mountPoint string) *Controller {
	return &Controller{
		ChangerDevice: changerDevice,
		DriveDevice:   driveDevice,
		MountPoint:    mountPoint,
		Timeout:       30 * time.Second,
	}
}

func (c *Controller) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.Timeout)
}

// Inventory runs `mtx status` and parses the slot table.
func (c *Controller) Inventory(ctx context.Context) ([]Slot, error) {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	cmd := exec.CommandContext(cctx, "mtx", "-f", c.ChangerDevice, "status")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("mtx status: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return parseMtxStatus(string(output)), nil
}

// EnumerateTapes classifies every storage-slot barcode in the current
// inventory as usable or full, applying the configured whitelist (when
// non-empty, a label must appear in it) or blacklist (a label must not
// appear in it) policy, plus the catalog's already-known-full set. Ignores
// the drive's own loaded slot, matching spec.md §4.2's enumerate-tapes.
func (c *Controller) EnumerateTapes(ctx context.Context, whitelist, blacklist []string, fullInCatalog map[string]bool) (usable []string, full []string, err error) {
	slots, err := c.Inventory(ctx)
	if err != nil {
		return nil, nil, err
	}
	usable, full = classifySlots(slots, whitelist, blacklist, fullInCatalog)
	return usable, full, nil
}

// classifySlots applies the whitelist/blacklist/already-full policy to an
// inventory snapshot. Split out from EnumerateTapes so the policy logic is
// testable without shelling out to mtx.
func classifySlots(slots []Slot, whitelist, blacklist []string, fullInCatalog map[string]bool) (usable, full []string) {
	useWhitelist := len(whitelist) > 0
	allowed := make(map[string]bool, len(whitelist))
	for _, l := range whitelist {
		allowed[l] = true
	}
	denied := make(map[string]bool, len(blacklist))
	for _, l := range blacklist {
		denied[l] = true
	}

	for _, s := range slots {
		if s.Type != SlotStorage || s.IsEmpty || s.Barcode == "" {
			continue
		}
		label := s.Barcode
		if useWhitelist && !allowed[label] {
			continue
		}
		if !useWhitelist && denied[label] {
			continue
		}
		if fullInCatalog[label] {
			full = append(full, label)
			continue
		}
		usable = append(usable, label)
	}
	return usable, full
}

// SlotForLabel returns the storage-slot number currently holding the given
// barcode, for addressing Load.
func (c *Controller) SlotForLabel(ctx context.Context, label string) (int, error) {
	slots, err := c.Inventory(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range slots {
		if s.Type == SlotStorage && s.Barcode == label {
			return s.Number, nil
		}
	}
	return 0, fmt.Errorf("label %s not found in library inventory", label)
}

// parseMtxStatus parses `mtx -f <changer> status` output into Slots.
func parseMtxStatus(output string) []Slot {
	var slots []Slot

	extractBarcode := func(line, prefix string) string {
		idx := strings.Index(line, prefix)
		if idx < 0 {
			return ""
		}
		rest := strings.TrimSpace(line[idx+len(prefix):])
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return ""
		}
		return fields[0]
	}

	barcodeOf := func(line string) string {
		if bc := extractBarcode(line, "VolumeTag = "); bc != "" {
			return bc
		}
		return extractBarcode(line, "VolumeTag=")
	}

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)

		switch {
		case strings.HasPrefix(line, "Data Transfer Element"):
			parts := strings.SplitN(line, ":", 2)
			num, _ := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(parts[0], "Data Transfer Element ")))
			slots = append(slots, Slot{
				Number:  num,
				Type:    SlotDrive,
				IsEmpty: !strings.Contains(line, "Full"),
				Barcode: barcodeOf(line),
			})

		case strings.Contains(line, "Storage Element") && strings.Contains(line, "IMPORT/EXPORT"):
			parts := strings.SplitN(line, ":", 2)
			numStr := strings.Split(strings.TrimPrefix(parts[0], "Storage Element "), " ")[0]
			num, _ := strconv.Atoi(strings.TrimSpace(numStr))
			slots = append(slots, Slot{
				Number:  num,
				Type:    SlotImportExport,
				IsEmpty: !strings.Contains(line, "Full"),
				Barcode: barcodeOf(line),
			})

		case strings.Contains(line, "Storage Element"):
			parts := strings.SplitN(line, ":", 2)
			num, _ := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(parts[0], "Storage Element ")))
			slots = append(slots, Slot{
				Number:  num,
				Type:    SlotStorage,
				IsEmpty: !strings.Contains(line, "Full"),
				Barcode: barcodeOf(line),
			})
		}
	}

	return slots
}

// Load moves a tape from a storage slot into the drive.
func (c *Controller) Load(ctx context.Context, slot, drive int) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	cmd := exec.CommandContext(cctx, "mtx", "-f", c.ChangerDevice, "load", strconv.Itoa(slot), strconv.Itoa(drive))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mtx load: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// Unload moves the drive's tape back to its storage slot.
func (c *Controller) Unload(ctx context.Context, slot, drive int) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	cmd := exec.CommandContext(cctx, "mtx", "-f", c.ChangerDevice, "unload", strconv.Itoa(slot), strconv.Itoa(drive))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mtx unload: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// Status runs `mt status` against the drive and parses density/LTO type.
func (c *Controller) Status(ctx context.Context) (*DriveStatus, error) {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	cmd := exec.CommandContext(cctx, "mt", "-f", c.DriveDevice, "status")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("mt status: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}

	status := &DriveStatus{}
	out := string(output)
	status.Online = !strings.Contains(out, "DR_OPEN") && !strings.Contains(out, "offline")

	if m := regexp.MustCompile(`Density code (0x[0-9a-fA-F]+)`).FindStringSubmatch(out); len(m) > 1 {
		status.Density = m[1]
		if t, ok := LTOTypeFromDensity(m[1]); ok {
			status.LTOType = t
		}
	}
	return status, nil
}

// Rewind rewinds the drive to BOT.
func (c *Controller) Rewind(ctx context.Context) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	cmd := exec.CommandContext(cctx, "mt", "-f", c.DriveDevice, "rewind")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mt rewind: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// SeekToBlock positions the drive at an absolute block number, used by
// Restore's head-travel-minimizing plan (spec.md §4.6).
func (c *Controller) SeekToBlock(ctx context.Context, block int64) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	cmd := exec.CommandContext(cctx, "mt", "-f", c.DriveDevice, "seek", strconv.FormatInt(block, 10))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mt seek: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// CurrentBlock reads the drive's current block position via `mt tell`.
func (c *Controller) CurrentBlock(ctx context.Context) (int64, error) {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	cmd := exec.CommandContext(cctx, "mt", "-f", c.DriveDevice, "tell")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("mt tell: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	re := regexp.MustCompile(`(\d+)`)
	m := re.FindStringSubmatch(string(output))
	if m == nil {
		return 0, fmt.Errorf("mt tell: unparsable output %q", output)
	}
	return strconv.ParseInt(m[1], 10, 64)
}

// FormatLTFS formats the loaded tape as LTFS, stamping volumeUUID as the
// volume's UUID (mkltfs -u) when one is supplied so the catalog's
// per-tape UUID (internal/catalog.Tape.VolumeUUID) is recoverable from
// the tape itself, not just the database.
func (c *Controller) FormatLTFS(ctx context.Context, label, volumeUUID string) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	args := []string{"-d", c.DriveDevice}
	if label != "" {
		args = append(args, "-n", label)
	}
	if volumeUUID != "" {
		args = append(args, "-u", volumeUUID)
	}
	cmd := exec.CommandContext(cctx, "mkltfs", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mkltfs: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// MountLTFS mounts the LTFS volume at the drive's mount point.
func (c *Controller) MountLTFS(ctx context.Context) error {
	if err := os.MkdirAll(c.MountPoint, 0755); err != nil {
		return fmt.Errorf("create mount point %s: %w", c.MountPoint, err)
	}
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	cmd := exec.CommandContext(cctx, "ltfs", c.MountPoint, "-o", "devname="+c.DriveDevice)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ltfs mount: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// UnmountLTFS cleanly unmounts the LTFS volume, flushing its index.
func (c *Controller) UnmountLTFS(ctx context.Context) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	if _, err := exec.LookPath("fusermount"); err == nil {
		cmd := exec.CommandContext(cctx, "fusermount", "-u", c.MountPoint)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}
	cmd := exec.CommandContext(cctx, "umount", c.MountPoint)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ltfs unmount: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// EnsureLTFS mounts the loaded tape's LTFS volume, formatting it first if
// it is blank or unpartitioned. Any other mount failure is returned as
// fatal, matching original_source's mount_ltfs/mkltfs/ltfs three-way
// contract (already-mounted / needs-format / fatal). volumeUUID is passed
// through to FormatLTFS on the blank-volume path; restore callers that
// have no row to stamp pass "" and let mkltfs generate its own.
func (c *Controller) EnsureLTFS(ctx context.Context, label, volumeUUID string) error {
	if c.IsLTFSMounted() {
		return nil
	}
	err := c.MountLTFS(ctx)
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "medium is not partitioned") || strings.Contains(err.Error(), "Cannot read volume") {
		if fmtErr := c.FormatLTFS(ctx, label, volumeUUID); fmtErr != nil {
			return fmt.Errorf("format blank volume: %w", fmtErr)
		}
		return c.MountLTFS(ctx)
	}
	return fmt.Errorf("mount ltfs: %w", err)
}

// IsLTFSMounted checks /proc/mounts for the configured mount point.
func (c *Controller) IsLTFSMounted() bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), c.MountPoint)
}

// SpaceInfo is the (used, free, total) byte triple read live from the
// mounted LTFS filesystem, matching original_source's os.statvfs calls in
// write_file/write (spec.md §4.5: "Read live free space before each copy").
type SpaceInfo struct {
	Used  int64
	Free  int64
	Total int64
}

// FreeSpace statvfs's the mount point for the write stage's per-copy
// space check.
func (c *Controller) FreeSpace() (SpaceInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(c.MountPoint, &st); err != nil {
		return SpaceInfo{}, fmt.Errorf("statfs %s: %w", c.MountPoint, err)
	}
	total := int64(st.Blocks) * int64(st.Bsize)
	free := int64(st.Bavail) * int64(st.Bsize)
	used := int64(st.Blocks-st.Bfree) * int64(st.Bsize)
	return SpaceInfo{Used: used, Free: free, Total: total}, nil
}

// DriveInfo shells out to sg_inq for vendor/model/serial diagnostics.
func (c *Controller) DriveInfo(ctx context.Context) (map[string]string, error) {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	cmd := exec.CommandContext(cctx, "sg_inq", c.DriveDevice)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("sg_inq: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}

	info := make(map[string]string)
	for _, line := range strings.Split(string(output), "\n") {
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			val := strings.TrimSpace(line[idx+1:])
			if key != "" && val != "" {
				info[key] = val
			}
		}
	}
	return info, nil
}

// UsageStats shells out to tapeinfo/sg_logs for drive health diagnostics,
// returned as opaque passthrough text (spec.md §13 supplemented tape info).
func (c *Controller) UsageStats(ctx context.Context) (string, error) {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	var sb strings.Builder
	if cmd := exec.CommandContext(cctx, "tapeinfo", "-f", c.DriveDevice); true {
		if output, err := cmd.CombinedOutput(); err == nil {
			sb.WriteString(string(output))
		}
	}
	for _, page := range []string{"0x0d", "0x14", "0x1b", "0x2e"} {
		cmd := exec.CommandContext(cctx, "sg_logs", "-p", page, c.DriveDevice)
		if output, err := cmd.CombinedOutput(); err == nil {
			sb.Write(output)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no diagnostic tools available for %s", c.DriveDevice)
	}
	return sb.String(), nil
}

// SetHardwareEncryption enables SCSI tape drive hardware encryption via
// stenc. No stage calls it; the Write stage always uses the software
// cipher.
func (c *Controller) SetHardwareEncryption(ctx context.Context, keyPath string) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	cmd := exec.CommandContext(cctx, "stenc", "-f", c.DriveDevice, "-e", "on", "-k", keyPath, "-a", "1")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("stenc enable: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// ClearHardwareEncryption disables drive-side encryption.
func (c *Controller) ClearHardwareEncryption(ctx context.Context) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	cmd := exec.CommandContext(cctx, "stenc", "-f", c.DriveDevice, "-e", "off")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("stenc disable: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}
