package surveyapi

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/survey"
)

// reservedFields are submit form fields a description key may not shadow.
var reservedFields = map[string]bool{
	"user_id":     true,
	"song_id":     true,
	"feature1":    true,
	"feature2":    true,
	"feature3":    true,
	"description": true,
}

type nextSongPayload struct {
	Complete     bool              `json:"complete"`
	SongID       string            `json:"song_id"`
	SongFile     string            `json:"song_file"`
	Descriptions map[string]string `json:"descriptions"`
}

func (p nextSongPayload) toDomain() (survey.Next, error) {
	if p.Complete {
		return survey.Next{Complete: true}, nil
	}
	if p.SongID == "" || p.SongFile == "" {
		return survey.Next{}, errors.New("item without song_id or song_file")
	}

	keys := make([]string, 0, len(p.Descriptions))
	for k := range p.Descriptions {
		if k == "" || reservedFields[k] {
			return survey.Next{}, fmt.Errorf("invalid description key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	item := survey.Item{SongID: p.SongID, SongFile: p.SongFile}
	for _, k := range keys {
		item.Descriptions = append(item.Descriptions, survey.Description{Key: k, Text: p.Descriptions[k]})
	}
	return survey.Next{Item: item}, nil
}

func submitForm(r survey.Response) (url.Values, error) {
	if len(r.Features) != survey.RankedFeatureCount {
		return nil, fmt.Errorf("surveyapi: submit: want %d features, got %d", survey.RankedFeatureCount, len(r.Features))
	}
	form := url.Values{}
	form.Set("user_id", r.WorkerID)
	form.Set("song_id", r.SongID)
	for i, f := range r.Features {
		form.Set("feature"+strconv.Itoa(i+1), f)
	}
	form.Set("description", r.Description)
	for k, v := range r.Ratings {
		if reservedFields[k] {
			return nil, fmt.Errorf("surveyapi: submit: rating key %q shadows a form field", k)
		}
		form.Set(k, strconv.Itoa(v))
	}
	return form, nil
}
