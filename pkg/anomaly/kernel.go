package anomaly

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
	"github.com/Sumatoshi-tech/crashtriage/pkg/dedup"
)

// lineState is the position of a multi-line state machine.
type lineState int

const (
	stateNone lineState = iota
	stateStart
	stateHeader
	stateBody
	stateLmac
)

const (
	cutHereMarker        = "------------[ cut here"
	endTraceMarker       = "---[ end trace"
	crashReporterRlimit  = "(crash_reporter) has RLIMIT_CORE set to"
	unknownFunction      = "unknown-function"
	wirelessDriverPath   = "drivers/net/wireless"
	idleDriverPath       = "drivers/idle"
	selfCrashMinInterval = time.Hour
)

// Kernel report flags.
const (
	FlagKernelWarning        = "--kernel_warning"
	FlagKernelWifiWarning    = "--kernel_wifi_warning"
	FlagKernelSuspendWarning = "--kernel_suspend_warning"
	FlagKernelIwlwifiError   = "--kernel_iwlwifi_error"
	FlagKernelSMMUFault      = "--kernel_smmu_fault"
	FlagCrashReporterCrashed = "--crash_reporter_crashed"
)

// The CPU/PID fields are optional to keep accepting pre-3.11 kernel output.
var warningHeaderRE = regexp.MustCompile(`^\[\s*\S+\] WARNING:(?: CPU: \d+ PID: \d+)? at (.+)$`)

var (
	iwlwifiStartRE   = regexp.MustCompile(`iwlwifi.*Loaded firmware version:`)
	iwlwifiUmacRE    = regexp.MustCompile(`Start IWL Error Log Dump(.+)`)
	iwlwifiUmacEndRE = regexp.MustCompile(`(.+)isr status reg`)
	iwlwifiLmacEndRE = regexp.MustCompile(`(.+)flow_handler`)
	smmuFaultRE      = regexp.MustCompile(`Unhandled context fault: fsr=0x`)
)

// KernelParser reports kernel warnings, Wi-Fi firmware error dumps, SMMU
// faults and crash_reporter self-crashes from the kernel log.
type KernelParser struct {
	base

	state lineState
	text  strings.Builder
	flag  string

	wifiState lineState
	wifiText  strings.Builder

	clock     clock.Clock
	selfCrash *rate.Limiter
}

// NewKernelParser creates a kernel log parser. A nil clock selects the real clock.
func NewKernelParser(clk clock.Clock) *KernelParser {
	if clk == nil {
		clk = clock.Real()
	}

	return &KernelParser{
		base:      newBase(),
		clock:     clk,
		selfCrash: rate.NewLimiter(rate.Every(selfCrashMinInterval), 1),
	}
}

// ParseLogEntry implements Parser.
func (p *KernelParser) ParseLogEntry(_ context.Context, line string) *CrashReport {
	if report := p.parseWarning(line); report != nil {
		return report
	}

	if report := p.parseIwlwifi(line); report != nil {
		return report
	}

	if smmuFaultRE.MatchString(line) {
		return &CrashReport{Text: line + "\n", Flags: []string{FlagKernelSMMUFault}}
	}

	if strings.Contains(line, crashReporterRlimit) && p.selfCrash.AllowN(p.clock.Now(), 1) {
		return &CrashReport{Text: "", Flags: []string{FlagCrashReporterCrashed}}
	}

	return nil
}

func (p *KernelParser) parseWarning(line string) *CrashReport {
	switch p.state {
	case stateNone:
		if strings.Contains(line, cutHereMarker) {
			p.state = stateStart
		}
	case stateStart, stateHeader:
		m := warningHeaderRE.FindStringSubmatch(line)
		if m != nil {
			p.beginWarning(m[1])

			return nil
		}

		if p.state == stateStart {
			// One optional line may sit between the marker and the header.
			p.state = stateHeader
			p.text.WriteString(line)
			p.text.WriteString("\n")

			return nil
		}

		p.resetWarning()
	case stateBody:
		if strings.Contains(line, endTraceMarker) {
			report := &CrashReport{Text: p.text.String(), Flags: []string{p.flag}}
			p.resetWarning()

			return report
		}

		p.text.WriteString(line)
		p.text.WriteString("\n")
	case stateLmac:
	}

	return nil
}

// beginWarning handles a matched header whose info reads
// "file:line func+offset/size() [module]".
func (p *KernelParser) beginWarning(info string) {
	hash := dedup.StringHash(info)
	if p.seen.WasAlreadySeen(hash) {
		p.resetWarning()

		return
	}

	p.flag = warningFlag(info)

	function := unknownFunction
	if _, after, found := strings.Cut(info, " "); found {
		function = after
	}

	fmt.Fprintf(&p.text, "%08x-%s\n%s\n", hash, function, info)
	p.state = stateBody
}

func (p *KernelParser) resetWarning() {
	p.state = stateNone
	p.flag = ""
	p.text.Reset()
}

func (p *KernelParser) parseIwlwifi(line string) *CrashReport {
	switch p.wifiState {
	case stateNone:
		if iwlwifiStartRE.MatchString(line) {
			p.wifiState = stateStart
			p.appendWifi(line)
		}
	case stateStart:
		if iwlwifiLmacEndRE.MatchString(line) {
			p.wifiState = stateLmac
		} else if iwlwifiUmacEndRE.MatchString(line) {
			// Nothing follows the umac section.
			p.appendWifi(line)

			return p.emitWifi()
		}

		p.appendWifi(line)
	case stateLmac:
		if iwlwifiUmacRE.MatchString(line) {
			p.wifiState = stateStart
			p.appendWifi(line)

			return nil
		}

		return p.emitWifi()
	case stateHeader, stateBody:
	}

	return nil
}

func (p *KernelParser) appendWifi(line string) {
	p.wifiText.WriteString(line)
	p.wifiText.WriteString("\n")
}

func (p *KernelParser) emitWifi() *CrashReport {
	report := &CrashReport{Text: p.wifiText.String(), Flags: []string{FlagKernelIwlwifiError}}
	p.wifiState = stateNone
	p.wifiText.Reset()

	return report
}

func warningFlag(info string) string {
	switch {
	case strings.Contains(info, wirelessDriverPath):
		return FlagKernelWifiWarning
	case strings.Contains(info, idleDriverPath):
		return FlagKernelSuspendWarning
	default:
		return FlagKernelWarning
	}
}
