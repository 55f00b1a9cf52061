package engine

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// DefaultMemoryGB es la memoria asumida cuando el dispositivo no informa ninguna.
const DefaultMemoryGB = 4.0

// Identificadores de modelo por tier.
const (
	ModelLow  = "Qwen2.5-0.5B-Instruct-q4f16_1-MLC"
	ModelMid  = "Llama-3.2-1B-Instruct-q4f16_1-MLC"
	ModelHigh = "Llama-3.2-3B-Instruct-q4f16_1-MLC"
)

// MemoryHint devuelve la memoria del dispositivo en GB, o false si no esta disponible.
type MemoryHint func() (float64, bool)

// Tiers asocia cada tier con un identificador de modelo concreto.
type Tiers struct {
	Low  string
	Mid  string
	High string
}

var DefaultTiers = Tiers{Low: ModelLow, Mid: ModelMid, High: ModelHigh}

// Select aplica la politica: >=8GB high, >=4GB mid, resto low.
func (t Tiers) Select(hint MemoryHint) string {
	gb := MemoryGB(hint)
	switch {
	case gb >= 8:
		return t.High
	case gb >= 4:
		return t.Mid
	default:
		return t.Low
	}
}

// SelectModel elige el modelo del tier por defecto.
func SelectModel(hint MemoryHint) string {
	return DefaultTiers.Select(hint)
}

// MemoryGB resuelve el hint; ausencia o valores no positivos equivalen a 4GB.
func MemoryGB(hint MemoryHint) float64 {
	if hint == nil {
		return DefaultMemoryGB
	}
	gb, ok := hint()
	if !ok || gb <= 0 {
		return DefaultMemoryGB
	}
	return gb
}

// StaticHint envuelve un valor de configuracion opcional.
func StaticHint(gb *float64) MemoryHint {
	return func() (float64, bool) {
		if gb == nil {
			return 0, false
		}
		return *gb, true
	}
}

// ProcMeminfoHint lee MemTotal de un archivo con formato /proc/meminfo.
func ProcMeminfoHint(path string) MemoryHint {
	return func() (float64, bool) {
		f, err := os.Open(path)
		if err != nil {
			return 0, false
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) < 2 || fields[0] != "MemTotal:" {
				continue
			}
			kb, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return 0, false
			}
			return kb / (1024 * 1024), true
		}
		return 0, false
	}
}

// FirstHint devuelve el primer hint disponible.
func FirstHint(hints ...MemoryHint) MemoryHint {
	return func() (float64, bool) {
		for _, h := range hints {
			if h == nil {
				continue
			}
			if gb, ok := h(); ok {
				return gb, true
			}
		}
		return 0, false
	}
}
