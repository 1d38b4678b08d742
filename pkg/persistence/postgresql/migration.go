package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE scenarios (
				id TEXT PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				protocol JSONB NOT NULL,
				folder_id TEXT,
				created_by TEXT,
				last_modified_by TEXT,
				creation_type VARCHAR(50) NOT NULL,
				validated BOOLEAN NOT NULL DEFAULT false,
				version INTEGER NOT NULL,
				error JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_scenarios_status ON scenarios(status);
			CREATE INDEX idx_scenarios_created_at ON scenarios(created_at);

			CREATE TABLE jobs (
				id TEXT PRIMARY KEY,
				scenario_id TEXT NOT NULL UNIQUE REFERENCES scenarios(id) ON DELETE CASCADE,
				user_id TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_created_at ON jobs(created_at, id);

			CREATE TABLE resources (
				id TEXT PRIMARY KEY,
				type VARCHAR(255) NOT NULL,
				name TEXT,
				blob_path TEXT NOT NULL,
				origin VARCHAR(50) NOT NULL,
				flagged BOOLEAN NOT NULL DEFAULT false,
				scenario_id TEXT,
				process_instance TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_resources_scenario_id ON resources(scenario_id);
		`,
		2: `
			CREATE TABLE triggered_jobs (
				id TEXT PRIMARY KEY,
				scenario_id TEXT NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
				cron_expression VARCHAR(255) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT true,
				last_run_at TIMESTAMP WITH TIME ZONE,
				created_by TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggered_jobs_active ON triggered_jobs(is_active);
		`,
	}
}
