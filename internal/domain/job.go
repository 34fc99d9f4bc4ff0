package domain

import "strconv"

// Job is the record appended to the job stream.
// It only references the input payload; the bytes live in the BlobStore.
type Job struct {
	ID             string
	InputFileID    string
	InputExtension string
	OutputFormat   string
	// Quality is 0 when absent.
	Quality int
}

// Stream field names, kept identical to what existing producers write.
const (
	fieldJobID          = "jobId"
	fieldInputFileID    = "inputFileId"
	fieldInputExtension = "inputExtension"
	fieldOutputFormat   = "outputFormat"
	fieldQuality        = "quality"
)

// Fields encodes the job as flat stream entry values.
func (j Job) Fields() map[string]any {
	quality := ""
	if j.Quality != 0 {
		quality = strconv.Itoa(j.Quality)
	}
	return map[string]any{
		fieldJobID:          j.ID,
		fieldInputFileID:    j.InputFileID,
		fieldInputExtension: j.InputExtension,
		fieldOutputFormat:   j.OutputFormat,
		fieldQuality:        quality,
	}
}

// JobFromFields decodes a stream entry. An unparsable quality is treated as absent.
func JobFromFields(values map[string]any) Job {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	job := Job{
		ID:             str(fieldJobID),
		InputFileID:    str(fieldInputFileID),
		InputExtension: str(fieldInputExtension),
		OutputFormat:   str(fieldOutputFormat),
	}
	if q, err := strconv.Atoi(str(fieldQuality)); err == nil {
		job.Quality = q
	}
	return job
}

// Delivery is a job claimed from the stream by one consumer.
type Delivery struct {
	// EntryID is the stream entry id (e.g. 1700000000000-0) needed to acknowledge.
	EntryID string
	Job     Job
}

// JobResult is the message published on the job's result channel.
type JobResult struct {
	Success      bool   `json:"success"`
	OutputFileID string `json:"outputFileId,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Succeeded builds a success result.
func Succeeded(outputFileID, mimeType string) JobResult {
	return JobResult{Success: true, OutputFileID: outputFileID, MimeType: mimeType}
}

// Failed builds a failure result from an error.
func Failed(err error) JobResult {
	msg := "Unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return JobResult{Success: false, Error: msg}
}
