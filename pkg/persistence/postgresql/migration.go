package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id),
				origin VARCHAR(255) NOT NULL DEFAULT '',
				prospect_ids TEXT[] NOT NULL,
				current_node_id VARCHAR(255),
				next_node_id VARCHAR(255),
				next_due_at TIMESTAMP WITH TIME ZONE,
				status VARCHAR(20) NOT NULL
					CHECK (status IN ('pending', 'in_progress', 'paused', 'completed', 'failed')),
				error_message TEXT,
				estimated_cost NUMERIC(14, 4) NOT NULL DEFAULT 0,
				realized_cost NUMERIC(14, 4),
				started_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE,
				paused_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT executions_next_node_terminal
					CHECK ((status IN ('completed', 'failed')) = (next_node_id IS NULL))
			);

			CREATE INDEX idx_executions_due ON executions(next_due_at, status)
				WHERE status IN ('pending', 'in_progress');
			CREATE INDEX idx_executions_flow_id ON executions(flow_id);
			CREATE INDEX idx_executions_created_at ON executions(created_at);

			CREATE TABLE execution_stages (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				prospect_ids TEXT[],
				scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL,
				executed_at TIMESTAMP WITH TIME ZONE,
				status VARCHAR(20) NOT NULL
					CHECK (status IN ('pending', 'executing', 'batching', 'completed', 'failed')),
				message_id VARCHAR(255),
				result JSONB,
				executed BOOLEAN NOT NULL DEFAULT false,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT execution_stages_execution_node UNIQUE (execution_id, node_id)
			);

			CREATE INDEX idx_execution_stages_message ON execution_stages(execution_id, executed_at)
				WHERE message_id IS NOT NULL;
		`,
		2: `
			CREATE TABLE prospects (
				id UUID PRIMARY KEY,
				identifier VARCHAR(255) NOT NULL UNIQUE,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(320),
				phone VARCHAR(32),
				amount NUMERIC(14, 2),
				import_id UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_prospects_import_id ON prospects(import_id);

			CREATE TABLE imports (
				id UUID PRIMARY KEY,
				file_path TEXT NOT NULL,
				status VARCHAR(20) NOT NULL
					CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				checkpoint JSONB,
				result JSONB,
				error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);
		`,
	}
}
