package infra

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/viant/afs"

	"admission-sidecar/sidecar/admission/domain"
)

// profileColumns é o layout da tabela: method,url,query,content,avgSize,sizeStdev,avgTime,timeStdev.
const profileColumns = 8

// ProfileTable implementa domain.ProfileRegistry, preservando a ordem da tabela.
type ProfileTable struct {
	profiles []domain.TaskProfile
	index    map[domain.TaskKey]int
}

// NewProfileTable valida as chaves (formato e duplicidade).
func NewProfileTable(profiles []domain.TaskProfile) (*ProfileTable, error) {
	t := &ProfileTable{index: make(map[domain.TaskKey]int, len(profiles))}
	for _, p := range profiles {
		if !p.Key.Valid() {
			return nil, fmt.Errorf("invalid task key %q", p.Key)
		}
		if _, dup := t.index[p.Key]; dup {
			return nil, fmt.Errorf("duplicate task key %q", p.Key)
		}
		t.index[p.Key] = len(t.profiles)
		t.profiles = append(t.profiles, p)
	}
	return t, nil
}

func (t *ProfileTable) Lookup(key domain.TaskKey) (domain.TaskProfile, bool) {
	i, ok := t.index[key]
	if !ok {
		return domain.TaskProfile{}, false
	}
	return t.profiles[i], true
}

func (t *ProfileTable) All() []domain.TaskProfile {
	return append([]domain.TaskProfile(nil), t.profiles...)
}

// Keys retorna as chaves na ordem da tabela.
func (t *ProfileTable) Keys() []domain.TaskKey {
	out := make([]domain.TaskKey, len(t.profiles))
	for i, p := range t.profiles {
		out[i] = p.Key
	}
	return out
}

// LoadProfiles baixa a tabela pelo afs (arquivo local, mem://, s3://, gs://...).
func LoadProfiles(ctx context.Context, fs afs.Service, location string) (*ProfileTable, error) {
	if fs == nil {
		fs = afs.New()
	}
	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("download task profiles %s: %w", location, err)
	}
	profiles, err := ParseProfiles(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse task profiles %s: %w", location, err)
	}
	return NewProfileTable(profiles)
}

// ParseProfiles lê a tabela CSV, pulando o cabeçalho. Tempos vêm em microssegundos.
func ParseProfiles(r io.Reader) ([]domain.TaskProfile, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = profileColumns
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty profile table")
		}
		return nil, fmt.Errorf("header: %w", err)
	}

	var out []domain.TaskProfile
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		p, err := parseProfileRow(row)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseProfileRow(row []string) (domain.TaskProfile, error) {
	nums := make([]float64, 4)
	for i := range nums {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[4+i]), 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.TaskProfile{}, fmt.Errorf("column %d: invalid number %q", 5+i, row[4+i])
		}
		nums[i] = v
	}
	avg, err := domain.Microseconds(nums[2])
	if err != nil {
		return domain.TaskProfile{}, fmt.Errorf("column 7: %w", err)
	}
	stdev, err := domain.Microseconds(nums[3])
	if err != nil {
		return domain.TaskProfile{}, fmt.Errorf("column 8: %w", err)
	}
	method := strings.TrimSpace(row[0])
	url := strings.TrimSpace(row[1])
	query := strings.TrimSpace(row[2])
	content := strings.TrimSpace(row[3])
	return domain.TaskProfile{
		Key:       domain.NewTaskKey(method, url, query, content),
		Method:    method,
		URL:       url,
		Query:     query,
		Content:   content,
		AvgSize:   nums[0],
		SizeStdev: nums[1],
		AvgTime:   avg,
		TimeStdev: stdev,
	}, nil
}
