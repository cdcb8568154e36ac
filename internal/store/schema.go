package store

// Schema v1 - media identification pipeline
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per ingested file; version drives optimistic status updates
CREATE TABLE IF NOT EXISTS media_files (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  path TEXT UNIQUE NOT NULL,
  content_hash TEXT NOT NULL,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  kind TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'discovered',
  version INTEGER NOT NULL DEFAULT 1,
  error_kind TEXT,
  error TEXT,
  ingested_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_files_status ON media_files(status, id);
CREATE INDEX IF NOT EXISTS idx_media_files_hash ON media_files(content_hash);

-- Immutable fingerprints, at most one per algorithm version
CREATE TABLE IF NOT EXISTS fingerprints (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  media_file_id INTEGER NOT NULL REFERENCES media_files(id) ON DELETE CASCADE,
  algorithm TEXT NOT NULL,
  algorithm_version INTEGER NOT NULL,
  blob BLOB NOT NULL,
  blob_sha256 TEXT NOT NULL,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  frame_count INTEGER NOT NULL DEFAULT 0,
  features_json TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME NOT NULL,
  UNIQUE(media_file_id, algorithm, algorithm_version)
);

CREATE TABLE IF NOT EXISTS media_metadata (
  media_file_id INTEGER PRIMARY KEY REFERENCES media_files(id) ON DELETE CASCADE,
  title TEXT,
  artist TEXT,
  album TEXT,
  year INTEGER,
  genre TEXT,
  country TEXT,
  language TEXT,
  musicbrainz_id TEXT,
  source TEXT NOT NULL,
  quality REAL NOT NULL DEFAULT 0,
  updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ml_features (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  media_file_id INTEGER NOT NULL REFERENCES media_files(id) ON DELETE CASCADE,
  schema_version INTEGER NOT NULL,
  vector_json TEXT NOT NULL,
  created_at DATETIME NOT NULL,
  UNIQUE(media_file_id, schema_version)
);

CREATE TABLE IF NOT EXISTS match_results (
  media_file_id INTEGER NOT NULL REFERENCES media_files(id) ON DELETE CASCADE,
  fingerprint_id INTEGER NOT NULL REFERENCES fingerprints(id) ON DELETE CASCADE,
  outcome TEXT NOT NULL,
  candidates_json TEXT NOT NULL,
  created_at DATETIME NOT NULL,
  PRIMARY KEY (media_file_id, fingerprint_id)
);

CREATE TABLE IF NOT EXISTS scores (
  media_file_id INTEGER PRIMARY KEY REFERENCES media_files(id) ON DELETE CASCADE,
  model_version INTEGER NOT NULL,
  features_id INTEGER NOT NULL,
  raw_score REAL NOT NULL,
  final_score REAL NOT NULL,
  boost_applied REAL NOT NULL DEFAULT 0,
  boost_reason TEXT,
  candidate_work_id INTEGER,
  signals_json TEXT NOT NULL,
  created_at DATETIME NOT NULL
);

-- Versions are immutable; only the active flag moves
CREATE TABLE IF NOT EXISTS ml_models (
  version INTEGER PRIMARY KEY,
  params_json TEXT NOT NULL,
  training_size INTEGER NOT NULL DEFAULT 0,
  validation_size INTEGER NOT NULL DEFAULT 0,
  validation_accuracy REAL NOT NULL DEFAULT 0,
  validation_log_loss REAL NOT NULL DEFAULT 0,
  hyperparams_json TEXT NOT NULL DEFAULT '{}',
  active INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ml_models_single_active ON ml_models(active) WHERE active = 1;

-- Resolved entries stay as history; only one open entry per file
CREATE TABLE IF NOT EXISTS review_queue (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  media_file_id INTEGER NOT NULL REFERENCES media_files(id) ON DELETE CASCADE,
  provisional_json TEXT NOT NULL,
  confidence REAL NOT NULL,
  pre_boost REAL NOT NULL,
  reason TEXT NOT NULL,
  enqueued_at DATETIME NOT NULL,
  resolved_at DATETIME,
  resolution TEXT,
  reviewer TEXT,
  notes TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_queue_open ON review_queue(media_file_id) WHERE resolved_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_review_queue_pending ON review_queue(resolved_at, enqueued_at, id);

CREATE TABLE IF NOT EXISTS ml_feedback (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  media_file_id INTEGER NOT NULL REFERENCES media_files(id) ON DELETE CASCADE,
  features_id INTEGER NOT NULL,
  provisional_json TEXT NOT NULL,
  corrected_json TEXT,
  feedback_type TEXT NOT NULL,
  predicted_score REAL NOT NULL,
  model_version INTEGER NOT NULL,
  signals_json TEXT NOT NULL,
  created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  media_file_id INTEGER,
  run_id TEXT,
  stage TEXT NOT NULL,
  level TEXT NOT NULL,
  from_status TEXT,
  to_status TEXT,
  error_kind TEXT,
  message TEXT NOT NULL,
  context_json TEXT,
  created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_logs_file ON processing_logs(media_file_id, id);

-- Catalog of known works backing the fingerprint index
CREATE TABLE IF NOT EXISTS works (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  artist TEXT,
  album TEXT,
  year INTEGER,
  genre TEXT,
  country TEXT,
  language TEXT,
  popularity REAL NOT NULL DEFAULT 0,
  musicbrainz_id TEXT
);

CREATE TABLE IF NOT EXISTS work_fingerprints (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  work_id INTEGER NOT NULL REFERENCES works(id) ON DELETE CASCADE,
  algorithm TEXT NOT NULL,
  algorithm_version INTEGER NOT NULL,
  blob BLOB NOT NULL,
  blob_sha256 TEXT NOT NULL,
  duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_work_fingerprints_algo ON work_fingerprints(algorithm, algorithm_version);
`

// Schema v2 - training provenance and duplicate content
const schemaV2 = `
ALTER TABLE ml_feedback ADD COLUMN used_for_training INTEGER NOT NULL DEFAULT 0;
ALTER TABLE ml_feedback ADD COLUMN training_weight REAL NOT NULL DEFAULT 1.0;

CREATE INDEX IF NOT EXISTS idx_ml_feedback_unused ON ml_feedback(used_for_training, id);

-- Which feedback rows fitted or validated each model version
CREATE TABLE IF NOT EXISTS ml_model_feedback (
  model_version INTEGER NOT NULL REFERENCES ml_models(version) ON DELETE CASCADE,
  feedback_id INTEGER NOT NULL REFERENCES ml_feedback(id) ON DELETE CASCADE,
  split TEXT NOT NULL,
  weight REAL NOT NULL,
  PRIMARY KEY (model_version, feedback_id)
);

-- Earliest file with the same bytes, NULL for the first copy
ALTER TABLE media_files ADD COLUMN duplicate_of INTEGER REFERENCES media_files(id);
`
